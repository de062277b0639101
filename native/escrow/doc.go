// Package escrow implements the native value-custody state machine. One
// escrow record holds a fixed amount of the ledger asset on behalf of an
// initializer, releases it to a recipient before a deadline, refunds it to
// the initializer after the deadline, allows pre-deadline cancellation by
// the initializer, and lets a designated arbiter force either outcome at
// any time while the record is open.
//
// The engine never holds a signing key for the vault. Record and vault
// locations are derived from the program identity and the
// (initializer, recipient) pair; transfers out of a vault are authorized by
// re-verifying that derivation, so no human-held key can move custodied
// funds.
//
// The engine assumes a serializing host: at most one operation is committed
// against a record at a time, and the host discards all writes when an
// operation returns an error.
package escrow
