package codec

import (
	"bytes"
	"testing"

	"github.com/helianthus/broker/internal/message"
)

func TestGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{'A'}, 2000)
	p := New(CompressionGzip, 6, EncryptionNone, KeyMaterial{}, 100)

	msg := message.New(append([]byte{}, payload...), message.TypeBinary, message.PriorityNormal, message.AtLeastOnce)
	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !msg.HasProperty(message.PropCompressed) {
		t.Fatal("expected Compressed property to be set")
	}
	if err := p.Decode(msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(msg.Payload.Bytes(), payload) {
		t.Fatal("round trip payload mismatch")
	}

	stats := p.Snapshot()
	if stats.CompressedMessages != 1 {
		t.Fatalf("expected 1 compressed message, got %d", stats.CompressedMessages)
	}
	if stats.CompressionRatio >= 0.10 {
		t.Fatalf("expected compression ratio < 0.10 for repeated bytes, got %f", stats.CompressionRatio)
	}
}

func TestAES128CBCRoundTrip(t *testing.T) {
	key := KeyMaterial{Key: []byte("MySecretKey12345")[:16], IV: []byte("MyIV1234567890123")[:16]}
	p := New(CompressionNone, 0, EncryptionAES128CBC, key, 0)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	msg := message.New(append([]byte{}, payload...), message.TypeText, message.PriorityNormal, message.AtLeastOnce)

	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !msg.HasProperty(message.PropEncrypted) {
		t.Fatal("expected Encrypted property to be set")
	}
	if err := p.Decode(msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(msg.Payload.Bytes(), payload) {
		t.Fatal("round trip payload mismatch")
	}
}

func TestAES256GCMRoundTrip(t *testing.T) {
	key := KeyMaterial{Key: bytes.Repeat([]byte{0x42}, 32)}
	p := New(CompressionNone, 0, EncryptionAES256GCM, key, 0)

	payload := []byte("secret payload")
	msg := message.New(append([]byte{}, payload...), message.TypeBinary, message.PriorityNormal, message.AtLeastOnce)

	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := p.Decode(msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(msg.Payload.Bytes(), payload) {
		t.Fatal("round trip payload mismatch")
	}
}

func TestCompressThenEncryptRoundTrip(t *testing.T) {
	key := KeyMaterial{Key: bytes.Repeat([]byte{0x11}, 32)}
	p := New(CompressionGzip, 6, EncryptionAES256GCM, key, 100)

	payload := bytes.Repeat([]byte{'Z'}, 2000)
	msg := message.New(append([]byte{}, payload...), message.TypeBinary, message.PriorityNormal, message.AtLeastOnce)

	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := p.Decode(msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(msg.Payload.Bytes(), payload) {
		t.Fatal("round trip payload mismatch")
	}

	stats := p.Snapshot()
	if stats.EncryptedMessages != 1 || stats.CompressedMessages != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAutoCompressionBelowMinSizeSkipped(t *testing.T) {
	p := New(CompressionGzip, 6, EncryptionNone, KeyMaterial{}, 1000)
	msg := message.New([]byte("short"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)

	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.HasProperty(message.PropCompressed) {
		t.Fatal("expected no compression below MinSize")
	}
}

func TestUnsupportedAlgorithmReturnsError(t *testing.T) {
	p := New(CompressionLZ4, 0, EncryptionNone, KeyMaterial{}, 0)
	msg := message.New(bytes.Repeat([]byte{'a'}, 10), message.TypeBinary, message.PriorityNormal, message.AtLeastOnce)

	if err := p.Encode(msg); err != ErrAlgorithmUnsupported {
		t.Fatalf("expected ErrAlgorithmUnsupported, got %v", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := KeyMaterial{Key: bytes.Repeat([]byte{0x01}, 32)}
	p := New(CompressionNone, 0, EncryptionAES256GCM, key, 0)

	msg := message.New([]byte("hello world"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	if err := p.Encode(msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	tampered := append([]byte{}, msg.Payload.Bytes()...)
	tampered[len(tampered)-1] ^= 0xFF
	msg.Payload = message.Payload{Owned: tampered}

	if err := p.Decode(msg); err != ErrAuthFailure {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}
