package oauthstate_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/service/oauthstate"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testPayload() *oauthstate.Payload {
	return &oauthstate.Payload{
		GroupID:      "group-1",
		UserID:       "user-1",
		Service:      "monzo",
		CSRFToken:    "csrf-abc",
		CodeVerifier: "verifier-xyz",
	}
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := oauthstate.NewSigner(testSecret)
	gt.NoError(t, err).Required()

	state, err := signer.Sign(testPayload())
	gt.NoError(t, err).Required()
	gt.Bool(t, state == "").False()

	got, err := signer.Verify(state)
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal(testPayload())
}

func TestSignerRejectsShortSecret(t *testing.T) {
	_, err := oauthstate.NewSigner([]byte("short"))
	gt.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, err := oauthstate.NewSigner(testSecret)
	gt.NoError(t, err).Required()

	state, err := signer.Sign(testPayload())
	gt.NoError(t, err).Required()

	tampered := []byte(state)
	tampered[len(tampered)/2] ^= 0x01
	_, err = signer.Verify(string(tampered))
	gt.Error(t, err)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	signer, err := oauthstate.NewSigner(testSecret)
	gt.NoError(t, err).Required()

	other, err := oauthstate.NewSigner([]byte("ffffffffffffffffffffffffffffffff"))
	gt.NoError(t, err).Required()

	state, err := other.Sign(testPayload())
	gt.NoError(t, err).Required()

	_, err = signer.Verify(state)
	gt.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := issued

	signer, err := oauthstate.NewSigner(testSecret,
		oauthstate.WithTTL(10*time.Minute),
		oauthstate.WithClock(func() time.Time { return clock }))
	gt.NoError(t, err).Required()

	state, err := signer.Sign(testPayload())
	gt.NoError(t, err).Required()

	clock = issued.Add(5 * time.Minute)
	_, err = signer.Verify(state)
	gt.NoError(t, err)

	clock = issued.Add(11 * time.Minute)
	_, err = signer.Verify(state)
	gt.Error(t, err)
}

func TestCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B reference vector
	gt.Value(t, oauthstate.CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")).
		Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM")
}

func TestGeneratorsProduceUniqueValues(t *testing.T) {
	v1, err := oauthstate.NewCodeVerifier()
	gt.NoError(t, err).Required()
	v2, err := oauthstate.NewCodeVerifier()
	gt.NoError(t, err).Required()
	gt.Value(t, v1).NotEqual(v2)

	c1, err := oauthstate.NewCSRFToken()
	gt.NoError(t, err).Required()
	c2, err := oauthstate.NewCSRFToken()
	gt.NoError(t, err).Required()
	gt.Value(t, c1).NotEqual(c2)
}
