// Package identity holds workline's user records: the subjects that session credentials name.
//
// The session verifier only needs Exists; the auth endpoints use Create, GetAuthByEmail and Delete.
package identity
