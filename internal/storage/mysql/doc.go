// Package mysql persists the wallet activity journal. It ships a JSON-lines
// file repository for local development and a MySQL repository with embedded
// schema migrations for deployments.
package mysql
