// Package agent is the caller-facing facade of the wallet daemon. It wires
// the custody session, wallet operations, message signing and transaction
// dispatch together, records activity and events at each operation
// boundary, and exposes the conversational actions and wallet provider
// that an agent runtime registers.
package agent
