package cashu

import (
	"errors"
	"reflect"
	"testing"
)

func testProofs() Proofs {
	return Proofs{
		{
			Amount: 2,
			Id:     "00ad268c4d1f5826",
			Secret: "9a6dbb847bd232ba76db0df197216b29d3b8cc14553cd27827fc1cc942fedb4e",
			C:      "038618543ffb6b8695df4ad4babcde92a34a96bdcd97dcee0d7ccf98d472126792",
		},
		{
			Amount: 1,
			Id:     "00ad268c4d1f5826",
			Secret: "acc12435e7b8484c3cf1850149218af90f716a52bf4a5ed347e48ecc13f77388",
			C:      "0244538319de485d55bed3b29a642bee5879375ab9e7a620e11e48ba482421f3cf",
		},
	}
}

func TestTokenV3RoundTrip(t *testing.T) {
	proofs := testProofs()

	token, err := NewTokenV3(proofs, "http://localhost:3338", Sat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("unexpected error serializing token: %v", err)
	}
	if serialized[:6] != "cashuA" {
		t.Fatalf("expected token prefix 'cashuA' but got '%v'", serialized[:6])
	}

	decoded, err := DecodeTokenV3(serialized)
	if err != nil {
		t.Fatalf("unexpected error decoding token: %v", err)
	}

	if !reflect.DeepEqual(token, *decoded) {
		t.Fatalf("decoded token '%v' does not match original '%v'", *decoded, token)
	}

	// re-serializing the decoded token has to produce the same string
	reserialized, err := decoded.Serialize()
	if err != nil {
		t.Fatalf("unexpected error serializing token: %v", err)
	}
	if reserialized != serialized {
		t.Fatalf("token did not round-trip: '%v' vs '%v'", reserialized, serialized)
	}

	if token.Amount() != 3 {
		t.Fatalf("expected token amount 3 but got %v", token.Amount())
	}
	if token.Mint() != "http://localhost:3338" {
		t.Fatalf("got wrong mint url '%v'", token.Mint())
	}
}

func TestTokenV4RoundTrip(t *testing.T) {
	proofs := testProofs()

	token, err := NewTokenV4(proofs, "http://localhost:3338", Sat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("unexpected error serializing token: %v", err)
	}
	if serialized[:6] != "cashuB" {
		t.Fatalf("expected token prefix 'cashuB' but got '%v'", serialized[:6])
	}

	decoded, err := DecodeTokenV4(serialized)
	if err != nil {
		t.Fatalf("unexpected error decoding token: %v", err)
	}

	if !reflect.DeepEqual(token.Proofs(), decoded.Proofs()) {
		t.Fatalf("decoded proofs '%v' do not match original '%v'", decoded.Proofs(), token.Proofs())
	}
	if decoded.Mint() != token.Mint() {
		t.Fatalf("got wrong mint url '%v'", decoded.Mint())
	}
}

func TestDecodeTokenGeneric(t *testing.T) {
	proofs := testProofs()

	tokenV3, _ := NewTokenV3(proofs, "http://localhost:3338", Sat)
	serializedV3, _ := tokenV3.Serialize()
	tokenV4, _ := NewTokenV4(proofs, "http://localhost:3338", Sat)
	serializedV4, _ := tokenV4.Serialize()

	for _, serialized := range []string{serializedV3, serializedV4} {
		token, err := DecodeToken(serialized)
		if err != nil {
			t.Fatalf("unexpected error decoding token: %v", err)
		}
		if token.Amount() != 3 {
			t.Fatalf("expected token amount 3 but got %v", token.Amount())
		}
	}
}

func TestDecodeInvalidToken(t *testing.T) {
	invalidTokens := []string{
		"",
		"cashu",
		"cashuCdGVzdA==",
		"cashuAnot-valid-base64!!!",
	}

	for _, tokenString := range invalidTokens {
		if _, err := DecodeToken(tokenString); err == nil {
			t.Fatalf("expected error decoding token '%v'", tokenString)
		}
	}
}

func TestNewTokenInvalidUnit(t *testing.T) {
	if _, err := NewTokenV3(testProofs(), "http://localhost:3338", Unit(42)); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("expected ErrInvalidUnit but got '%v'", err)
	}
}

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 21, expected: []uint64{1, 4, 16}},
		{amount: 1, expected: []uint64{1}},
		{amount: 0, expected: []uint64{}},
	}

	for _, test := range tests {
		result := AmountSplit(test.amount)
		if !reflect.DeepEqual(result, test.expected) {
			t.Fatalf("expected '%v' but got '%v'", test.expected, result)
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	proofs := testProofs()
	if CheckDuplicateProofs(proofs) {
		t.Fatal("expected no duplicate proofs")
	}

	if !CheckDuplicateProofs(append(proofs, proofs[0])) {
		t.Fatal("expected duplicate proofs to be detected")
	}
}
