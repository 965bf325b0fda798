package lcbook

// UserPassPair is a username/password credential pair.
type UserPassPair struct {
	Username string
	Password string
}

// AuthCredsRequest describes which service and endpoint credentials are
// being requested for, so an AuthProvider can scope its answer.
type AuthCredsRequest struct {
	Service  ServiceType
	Endpoint string
}

// AuthProvider lets the core fetch credentials on demand from the
// application, without the core ever needing to know how they were
// obtained (static config, a vault lookup, RBAC rotation, ...). Full SASL
// mechanism negotiation (PLAIN/SCRAM step exchange) lives outside this
// package; Authenticator below is the narrow plug point a connection calls
// during its authenticating phase.
type AuthProvider interface {
	Credentials(req AuthCredsRequest) (UserPassPair, error)
}

// PasswordAuthProvider is the simplest AuthProvider: a single static
// username/password used for every service.
type PasswordAuthProvider struct {
	Username string
	Password string
}

// Credentials always returns the configured static pair.
func (a *PasswordAuthProvider) Credentials(AuthCredsRequest) (UserPassPair, error) {
	return UserPassPair{Username: a.Username, Password: a.Password}, nil
}

// Authenticator performs whatever handshake is needed to move a connection
// from "authenticating" to "ready". The core ships only a minimal PLAIN
// implementation; richer SASL mechanisms (SCRAM-SHA*) plug in behind the
// same interface.
type Authenticator interface {
	Authenticate(conn AuthClient, creds UserPassPair) error
}

// AuthClient is the subset of a connection an Authenticator needs: send an
// auth request and get the raw response bytes back.
type AuthClient interface {
	ExecSASLAuth(mechanism, data []byte) ([]byte, error)
	ExecSelectBucket(bucket []byte) error
}

// plainAuthenticator implements SASL PLAIN directly, since it requires no
// negotiation beyond building the null-separated credential blob.
type plainAuthenticator struct {
	bucket string
}

// NewPlainAuthenticator returns an Authenticator performing SASL PLAIN
// authentication followed by a SELECT_BUCKET for the given bucket name.
func NewPlainAuthenticator(bucket string) Authenticator {
	return &plainAuthenticator{bucket: bucket}
}

func (a *plainAuthenticator) Authenticate(conn AuthClient, creds UserPassPair) error {
	userBuf := []byte(creds.Username)
	passBuf := []byte(creds.Password)
	authData := make([]byte, 1+len(userBuf)+1+len(passBuf))
	authData[0] = 0
	copy(authData[1:], userBuf)
	authData[1+len(userBuf)] = 0
	copy(authData[1+len(userBuf)+1:], passBuf)

	if _, err := conn.ExecSASLAuth([]byte("PLAIN"), authData); err != nil {
		return err
	}

	if a.bucket != "" {
		return conn.ExecSelectBucket([]byte(a.bucket))
	}
	return nil
}
