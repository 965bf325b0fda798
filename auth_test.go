package lcbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAuthClient struct {
	mechanism   []byte
	data        []byte
	bucket      []byte
	selectCalls int
}

func (f *fakeAuthClient) ExecSASLAuth(mechanism, data []byte) ([]byte, error) {
	f.mechanism = mechanism
	f.data = data
	return nil, nil
}

func (f *fakeAuthClient) ExecSelectBucket(bucket []byte) error {
	f.bucket = bucket
	f.selectCalls++
	return nil
}

func TestPlainAuthenticatorEncodesCredentialsAsNullSeparated(t *testing.T) {
	auth := NewPlainAuthenticator("default")
	client := &fakeAuthClient{}

	err := auth.Authenticate(client, UserPassPair{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	require.Equal(t, []byte("PLAIN"), client.mechanism)
	require.Equal(t, append([]byte{0}, append([]byte("alice"), append([]byte{0}, []byte("hunter2")...)...)...), client.data)
	require.Equal(t, []byte("default"), client.bucket)
	require.Equal(t, 1, client.selectCalls)
}

func TestPlainAuthenticatorSkipsSelectBucketWhenEmpty(t *testing.T) {
	auth := NewPlainAuthenticator("")
	client := &fakeAuthClient{}

	require.NoError(t, auth.Authenticate(client, UserPassPair{Username: "bob", Password: "pw"}))
	require.Equal(t, 0, client.selectCalls)
}

func TestPasswordAuthProviderReturnsStaticPair(t *testing.T) {
	p := &PasswordAuthProvider{Username: "svc", Password: "secret"}
	creds, err := p.Credentials(AuthCredsRequest{Service: MemdService, Endpoint: "host:11210"})
	require.NoError(t, err)
	require.Equal(t, UserPassPair{Username: "svc", Password: "secret"}, creds)
}
