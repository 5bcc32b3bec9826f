package interfaces

// CredentialAccessor is the only contact surface the live client has with the
// token slot. Token is read at connection-establishment time; Clear at logout.
type CredentialAccessor interface {
	Token() (string, bool)
	Clear() error
}
