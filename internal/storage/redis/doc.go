// Package redis backs the wallet daemon's submission guard and a capped
// activity journal with Redis.
package redis
