package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte(testSecret)), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func signTest(t *testing.T, channelID, role string, exp time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ChannelID: channelID,
		Role:      role,
		UserID:    "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestVerifyBearer(t *testing.T) {
	v := testVerifier(t)

	claims, err := v.VerifyBearer("Bearer " + signTest(t, "42", RoleBroadcaster, time.Minute))
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if claims.ChannelID != "42" || claims.Role != RoleBroadcaster {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := v.VerifyBearer(""); err == nil {
		t.Error("missing header accepted")
	}
	if _, err := v.VerifyBearer("Bearer not-a-jwt"); err == nil {
		t.Error("garbage token accepted")
	}
	if _, err := v.VerifyBearer("Bearer " + signTest(t, "42", RoleBroadcaster, -time.Minute)); err == nil {
		t.Error("expired token accepted")
	}
}

func TestCanPublishFor(t *testing.T) {
	tests := []struct {
		role, channel, target string
		want                  bool
	}{
		{RoleBroadcaster, "42", "42", true},
		{RoleAdmin, "42", "42", true},
		{"viewer", "42", "42", false},
		{RoleBroadcaster, "42", "43", false},
	}
	for _, tt := range tests {
		c := Claims{ChannelID: tt.channel, Role: tt.role}
		if got := c.CanPublishFor(tt.target); got != tt.want {
			t.Errorf("role=%s channel=%s target=%s: got %v", tt.role, tt.channel, tt.target, got)
		}
	}
}

func TestMintBroadcastJWT(t *testing.T) {
	v := testVerifier(t)
	signed, err := v.MintBroadcastJWT("42", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	var claims broadcastClaims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Role != RoleExternal || claims.ChannelID != "42" || claims.UserID != "owner-1" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.PubSubPerms.Send) != 1 || claims.PubSubPerms.Send[0] != "broadcast" {
		t.Errorf("pubsub_perms = %+v", claims.PubSubPerms)
	}
}
