package wire

import (
	"errors"
	"math/rand"
	"testing"
)

func randString(rng *rand.Rand, maxLen int) string {
	n := rng.Intn(maxLen + 1)
	b := make([]byte, n)
	for i := range b {
		// Keep to printable ASCII so we never need multi-byte UTF-8 handling
		// to produce a valid random string.
		b[i] = byte('a' + rng.Intn(26))
	}
	return string(b)
}

func TestCodecRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		cr := ConnectRequest{UID: rng.Uint64(), Username: randString(rng, 255), Password: randString(rng, 255)}
		buf, err := cr.Encode()
		if err != nil {
			t.Fatalf("ConnectRequest.Encode: %v", err)
		}
		code, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode ConnectRequest: %v", err)
		}
		if code != CodeConnectRequest {
			t.Fatalf("expected CodeConnectRequest, got %v", code)
		}
		if decoded.(ConnectRequest) != cr {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, cr)
		}
	}

	for i := 0; i < 200; i++ {
		resp := ConnectResponse{UID: rng.Uint64()}
		buf, _ := resp.Encode()
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode ConnectResponse: %v", err)
		}
		if decoded.(ConnectResponse) != resp {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, resp)
		}
	}

	for i := 0; i < 200; i++ {
		n := rng.Intn(20)
		targets := make([]uint64, n)
		for j := range targets {
			targets[j] = rng.Uint64()
		}
		req := UsersRequest{UID: rng.Uint64(), TargetUIDs: targets}
		buf, err := req.Encode()
		if err != nil {
			t.Fatalf("UsersRequest.Encode: %v", err)
		}
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode UsersRequest: %v", err)
		}
		got := decoded.(UsersRequest)
		if got.UID != req.UID || !uint64SlicesEqual(got.TargetUIDs, req.TargetUIDs) {
			t.Fatalf("round trip mismatch: %+v != %+v", got, req)
		}
	}

	for i := 0; i < 200; i++ {
		n := rng.Intn(10)
		users := make([]UserEntry, n)
		for j := range users {
			users[j] = UserEntry{UID: rng.Uint64(), Name: randString(rng, 255)}
		}
		resp := UsersResponse{UID: rng.Uint64(), Users: users}
		buf, err := resp.Encode()
		if err != nil {
			t.Fatalf("UsersResponse.Encode: %v", err)
		}
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode UsersResponse: %v", err)
		}
		got := decoded.(UsersResponse)
		if got.UID != resp.UID || len(got.Users) != len(resp.Users) {
			t.Fatalf("round trip mismatch: %+v != %+v", got, resp)
		}
		for j := range got.Users {
			if got.Users[j] != resp.Users[j] {
				t.Fatalf("user entry %d mismatch: %+v != %+v", j, got.Users[j], resp.Users[j])
			}
		}
	}

	for i := 0; i < 200; i++ {
		req := MessagesRequest{UID: rng.Uint64(), ThreadID: rng.Uint64(), Count: uint8(rng.Intn(256))}
		buf, _ := req.Encode()
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode MessagesRequest: %v", err)
		}
		if decoded.(MessagesRequest) != req {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, req)
		}
	}

	for i := 0; i < 100; i++ {
		n := rng.Intn(8)
		msgs := make([]MessageEntry, n)
		for j := range msgs {
			msgs[j] = MessageEntry{
				MID:       rng.Uint64(),
				Timestamp: rng.Float64() * 1e9,
				AuthorUID: rng.Uint64(),
				Body:      randString(rng, 500),
			}
		}
		resp := MessagesResponse{UID: rng.Uint64(), Messages: msgs}
		buf, err := resp.Encode()
		if err != nil {
			t.Fatalf("MessagesResponse.Encode: %v", err)
		}
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode MessagesResponse: %v", err)
		}
		got := decoded.(MessagesResponse)
		if got.UID != resp.UID || len(got.Messages) != len(resp.Messages) {
			t.Fatalf("round trip mismatch: %+v != %+v", got, resp)
		}
		for j := range got.Messages {
			if got.Messages[j] != resp.Messages[j] {
				t.Fatalf("message %d mismatch: %+v != %+v", j, got.Messages[j], resp.Messages[j])
			}
		}
	}

	for i := 0; i < 200; i++ {
		req := PostRequest{UID: rng.Uint64(), ThreadID: rng.Uint64(), Body: randString(rng, 500)}
		buf, err := req.Encode()
		if err != nil {
			t.Fatalf("PostRequest.Encode: %v", err)
		}
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode PostRequest: %v", err)
		}
		if decoded.(PostRequest) != req {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, req)
		}
	}

	for i := 0; i < 200; i++ {
		resp := PostResponse{UID: rng.Uint64(), ThreadID: rng.Uint64(), MID: rng.Uint64()}
		buf, _ := resp.Encode()
		_, decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode PostResponse: %v", err)
		}
		if decoded.(PostResponse) != resp {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, resp)
		}
	}
}

func uint64SlicesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecodeUnknownCode(t *testing.T) {
	_, _, err := Decode([]byte{8})
	if !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	_, _, err := Decode(nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeTruncatedFixedHeader(t *testing.T) {
	cases := [][]byte{
		{byte(CodeConnectRequest), 0, 0, 0},
		{byte(CodeConnectResponse), 0, 0, 0},
		{byte(CodeUsersRequest), 0, 0, 0},
		{byte(CodeUsersResponse), 0, 0, 0},
		{byte(CodeMessagesRequest), 0, 0, 0},
		{byte(CodeMessagesResponse), 0, 0, 0},
		{byte(CodePostRequest), 0, 0, 0},
		{byte(CodePostResponse), 0, 0, 0},
	}
	for _, c := range cases {
		_, _, err := Decode(c)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("code %d: expected ErrMalformed, got %v", c[0], err)
		}
	}
}

func TestDecodeTruncatedVariableTail(t *testing.T) {
	// CONNECT_REQUEST claims a 5-byte username but supplies none.
	req := ConnectRequest{UID: 1, Username: "alice", Password: "pw"}
	buf, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	truncated := buf[:len(buf)-len(req.Username)-len(req.Password)]
	_, _, err = Decode(truncated)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	req := ConnectRequest{UID: 1, Username: "alice", Password: "pw"}
	buf, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the username bytes to an invalid UTF-8 sequence.
	buf[11] = 0xFF
	_, _, err = Decode(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
