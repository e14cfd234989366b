package metadata

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Map{"section": "install", "attempt": float64(2)}
	line, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(line, prefixBytes) {
		t.Fatalf("encoded line missing prefix: %q", line)
	}
	for _, bad := range []byte{'$', '\'', '^', ' ', '\t', '\n'} {
		if bytes.IndexByte(line[len(prefixBytes):], bad) >= 0 {
			t.Fatalf("encoded payload contains unsafe byte %q: %q", bad, line)
		}
	}

	out, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["section"] != "install" {
		t.Fatalf("section = %v, want install", out["section"])
	}
}

func TestDecodeTrailingNewline(t *testing.T) {
	line, _ := Encode(Map{"section": "test"})
	withNL := append(append([]byte{}, line...), '\n')
	out, err := Decode(withNL)
	if err != nil {
		t.Fatalf("Decode with trailing newline: %v", err)
	}
	if out["section"] != "test" {
		t.Fatalf("section = %v, want test", out["section"])
	}

	withCRLF := append(append([]byte{}, line...), '\r', '\n')
	if _, err := Decode(withCRLF); err != nil {
		t.Fatalf("Decode with trailing CRLF: %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("not-a-metadata-line\n"),
		append([]byte(Prefix), []byte("not valid base64 !!!")...),
	}
	for _, c := range cases {
		if _, err := Decode(c); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) = %v, want ErrMalformed", c, err)
		}
	}
}

func TestIsMetadataLine(t *testing.T) {
	line, _ := Encode(Map{"section": "x"})
	if !IsMetadataLine(line) {
		t.Fatal("expected metadata line to be recognized")
	}
	if IsMetadataLine([]byte("echo hi\n")) {
		t.Fatal("did not expect ordinary line to be recognized as metadata")
	}
}
