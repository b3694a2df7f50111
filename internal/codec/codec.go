// Package codec implements the compression and encryption pipeline
// applied to message payloads on send and reversed on receive (C1,
// §4.1). Compression always runs before encryption on encode, and
// decryption always runs before decompression on decode, so that
// round-tripping a payload through Encode then Decode is byte-for-byte
// identity (§8 invariant 2).
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/helianthus/broker/internal/message"
)

// CompressionAlgorithm enumerates the supported payload compressors.
// GZIP is fully implemented; LZ4/ZSTD/SNAPPY are recognized but return
// AlgorithmUnsupported, since no library in the retrieved example pack
// implements them for this module to ground an implementation on (see
// DESIGN.md).
type CompressionAlgorithm int

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionGzip
	CompressionLZ4
	CompressionZstd
	CompressionSnappy
)

func (a CompressionAlgorithm) String() string {
	switch a {
	case CompressionNone:
		return "NONE"
	case CompressionGzip:
		return "GZIP"
	case CompressionLZ4:
		return "LZ4"
	case CompressionZstd:
		return "ZSTD"
	case CompressionSnappy:
		return "SNAPPY"
	default:
		return "UNKNOWN"
	}
}

// EncryptionAlgorithm enumerates the supported payload ciphers.
// AES_128_CBC and AES_256_GCM are fully implemented; ChaCha20-Poly1305
// is recognized but returns AlgorithmUnsupported for the same reason
// as the unimplemented compression algorithms above.
type EncryptionAlgorithm int

const (
	EncryptionNone EncryptionAlgorithm = iota
	EncryptionAES256GCM
	EncryptionChaCha20Poly1305
	EncryptionAES128CBC
)

func (a EncryptionAlgorithm) String() string {
	switch a {
	case EncryptionNone:
		return "NONE"
	case EncryptionAES256GCM:
		return "AES_256_GCM"
	case EncryptionChaCha20Poly1305:
		return "CHACHA20_POLY1305"
	case EncryptionAES128CBC:
		return "AES_128_CBC"
	default:
		return "UNKNOWN"
	}
}

// Errors returned by the codec pipeline. These map onto the pipeline
// contract in §4.1; callers translate them to resultcode.Code at the
// facade boundary.
var (
	ErrAlgorithmUnsupported = errors.New("codec: algorithm not implemented")
	ErrBufferTooSmall       = errors.New("codec: buffer too small")
	ErrCorruptedInput       = errors.New("codec: corrupted input")
	ErrKeyInvalid           = errors.New("codec: invalid key")
	ErrIVInvalid            = errors.New("codec: invalid IV")
	ErrAuthFailure          = errors.New("codec: decryption authentication failed")
)

// propCompressionAlg / propEncryptionAlg record, internally to the
// reserved Compressed/Encrypted properties, which algorithm was used,
// so Decode can recover it without an external side channel. No key
// version is recorded; Decode uses the Pipeline's configured keys.
const (
	propCompressionAlg = "_codec_compression_alg"
	propEncryptionAlg  = "_codec_encryption_alg"
)

// KeyMaterial bundles a symmetric key and an explicit IV/nonce. For
// AES-256-GCM the IV field is ignored (a fresh nonce is generated and
// prefixed to the ciphertext); for AES-128-CBC the IV is required and
// must be exactly aes.BlockSize (16) bytes.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// Pipeline applies configured compression and encryption to outbound
// messages and reverses it on inbound messages. One Pipeline is owned
// per queue (its configuration comes from the queue's config). The
// algorithms and keys live in the Pipeline's own fields; Encode and
// Decode take only the message, so each queue constructs its own via
// New.
type Pipeline struct {
	Compression CompressionAlgorithm
	CompressionLevel int
	Encryption  EncryptionAlgorithm
	Key         KeyMaterial
	MinSize     int // auto-compression only triggers at/above this payload size

	mu    sync.Mutex
	stats Stats
}

// New builds a codec pipeline for a queue's configured algorithms.
func New(compression CompressionAlgorithm, level int, encryption EncryptionAlgorithm, key KeyMaterial, minSize int) *Pipeline {
	return &Pipeline{
		Compression:      compression,
		CompressionLevel:  level,
		Encryption:        encryption,
		Key:               key,
		MinSize:           minSize,
	}
}

// Stats mirrors §4.1's per-queue codec statistics.
type Stats struct {
	TotalSeen            int64
	CompressedMessages    int64
	PreCompressBytes      int64
	PostCompressBytes     int64
	CompressionRatio      float64
	MeanCompressMs        float64
	MeanDecompressMs      float64
	EncryptedMessages     int64
	MeanEncryptMs         float64
	MeanDecryptMs         float64
}

// Snapshot returns a copy of the current statistics.
func (p *Pipeline) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Encode applies compression (if triggered by MinSize) then encryption
// (if configured) to msg's payload in place, recording reserved header
// properties so Decode can reverse the transform without being told
// the algorithm again.
func (p *Pipeline) Encode(msg *message.Message) error {
	p.mu.Lock()
	p.stats.TotalSeen++
	p.mu.Unlock()

	raw := msg.Payload.Bytes()

	if p.Compression != CompressionNone && len(raw) >= p.MinSize {
		start := time.Now()
		compressed, err := compress(p.Compression, raw, p.CompressionLevel)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		p.mu.Lock()
		p.stats.CompressedMessages++
		p.stats.PreCompressBytes += int64(len(raw))
		p.stats.PostCompressBytes += int64(len(compressed))
		p.stats.MeanCompressMs = rollingMean(p.stats.MeanCompressMs, p.stats.CompressedMessages, float64(elapsed.Microseconds())/1000.0)
		if p.stats.PreCompressBytes > 0 {
			p.stats.CompressionRatio = float64(p.stats.PostCompressBytes) / float64(p.stats.PreCompressBytes)
		}
		p.mu.Unlock()

		msg.Payload = message.Payload{Owned: compressed}
		msg.SetProperty(message.PropCompressed, "true")
		msg.SetProperty(propCompressionAlg, strconv.Itoa(int(p.Compression)))
		raw = compressed
	}

	if p.Encryption != EncryptionNone {
		start := time.Now()
		encrypted, err := encrypt(p.Encryption, raw, p.Key)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		p.mu.Lock()
		p.stats.EncryptedMessages++
		p.stats.MeanEncryptMs = rollingMean(p.stats.MeanEncryptMs, p.stats.EncryptedMessages, float64(elapsed.Microseconds())/1000.0)
		p.mu.Unlock()

		msg.Payload = message.Payload{Owned: encrypted}
		msg.SetProperty(message.PropEncrypted, "true")
		msg.SetProperty(propEncryptionAlg, strconv.Itoa(int(p.Encryption)))
	}

	return nil
}

// Decode reverses Encode: decrypt then decompress, recovering the
// algorithms used from the message's reserved properties rather than
// from the pipeline's own configuration (a message may have been
// encoded by a differently-configured pipeline instance, e.g. before a
// live config change).
func (p *Pipeline) Decode(msg *message.Message) error {
	raw := msg.Payload.Bytes()

	if msg.HasProperty(message.PropEncrypted) {
		algStr, _ := msg.GetProperty(propEncryptionAlg)
		algN, _ := strconv.Atoi(algStr)
		alg := EncryptionAlgorithm(algN)

		start := time.Now()
		decrypted, err := decrypt(alg, raw, p.Key)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		p.mu.Lock()
		p.stats.MeanDecryptMs = rollingMean(p.stats.MeanDecryptMs, p.stats.EncryptedMessages, float64(elapsed.Microseconds())/1000.0)
		p.mu.Unlock()

		raw = decrypted
		msg.DeleteProperty(message.PropEncrypted)
		msg.DeleteProperty(propEncryptionAlg)
	}

	if msg.HasProperty(message.PropCompressed) {
		algStr, _ := msg.GetProperty(propCompressionAlg)
		algN, _ := strconv.Atoi(algStr)
		alg := CompressionAlgorithm(algN)

		start := time.Now()
		decompressed, err := decompress(alg, raw)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		p.mu.Lock()
		p.stats.MeanDecompressMs = rollingMean(p.stats.MeanDecompressMs, p.stats.CompressedMessages, float64(elapsed.Microseconds())/1000.0)
		p.mu.Unlock()

		raw = decompressed
		msg.DeleteProperty(message.PropCompressed)
		msg.DeleteProperty(propCompressionAlg)
	}

	msg.Payload = message.Payload{Owned: raw}
	return nil
}

func rollingMean(mean float64, count int64, sample float64) float64 {
	if count <= 1 {
		return sample
	}
	return mean + (sample-mean)/float64(count)
}

// --- compression ---

func compress(alg CompressionAlgorithm, data []byte, level int) ([]byte, error) {
	switch alg {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBufferTooSmall, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4, CompressionZstd, CompressionSnappy:
		return nil, ErrAlgorithmUnsupported
	default:
		return nil, ErrAlgorithmUnsupported
	}
}

func decompress(alg CompressionAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedInput, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedInput, err)
		}
		return out, nil
	case CompressionLZ4, CompressionZstd, CompressionSnappy:
		return nil, ErrAlgorithmUnsupported
	default:
		return nil, ErrAlgorithmUnsupported
	}
}

// --- encryption ---

func encrypt(alg EncryptionAlgorithm, data []byte, key KeyMaterial) ([]byte, error) {
	switch alg {
	case EncryptionNone:
		return data, nil
	case EncryptionAES256GCM:
		if len(key.Key) != 32 {
			return nil, ErrKeyInvalid
		}
		block, err := aes.NewCipher(key.Key)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIVInvalid, err)
		}
		ciphertext := gcm.Seal(nonce, nonce, data, nil)
		return ciphertext, nil
	case EncryptionAES128CBC:
		if len(key.Key) != 16 {
			return nil, ErrKeyInvalid
		}
		if len(key.IV) != aes.BlockSize {
			return nil, ErrIVInvalid
		}
		block, err := aes.NewCipher(key.Key)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		padded := pkcs7Pad(data, aes.BlockSize)
		out := make([]byte, len(padded))
		mode := cipher.NewCBCEncrypter(block, key.IV)
		mode.CryptBlocks(out, padded)
		return out, nil
	case EncryptionChaCha20Poly1305:
		return nil, ErrAlgorithmUnsupported
	default:
		return nil, ErrAlgorithmUnsupported
	}
}

func decrypt(alg EncryptionAlgorithm, data []byte, key KeyMaterial) ([]byte, error) {
	switch alg {
	case EncryptionNone:
		return data, nil
	case EncryptionAES256GCM:
		if len(key.Key) != 32 {
			return nil, ErrKeyInvalid
		}
		block, err := aes.NewCipher(key.Key)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		if len(data) < gcm.NonceSize() {
			return nil, ErrAuthFailure
		}
		nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
		plain, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, ErrAuthFailure
		}
		return plain, nil
	case EncryptionAES128CBC:
		if len(key.Key) != 16 {
			return nil, ErrKeyInvalid
		}
		if len(key.IV) != aes.BlockSize {
			return nil, ErrIVInvalid
		}
		if len(data) == 0 || len(data)%aes.BlockSize != 0 {
			return nil, ErrCorruptedInput
		}
		block, err := aes.NewCipher(key.Key)
		if err != nil {
			return nil, ErrKeyInvalid
		}
		out := make([]byte, len(data))
		mode := cipher.NewCBCDecrypter(block, key.IV)
		mode.CryptBlocks(out, data)
		unpadded, err := pkcs7Unpad(out)
		if err != nil {
			return nil, err
		}
		return unpadded, nil
	case EncryptionChaCha20Poly1305:
		return nil, ErrAlgorithmUnsupported
	default:
		return nil, ErrAlgorithmUnsupported
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCorruptedInput
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, ErrCorruptedInput
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrCorruptedInput
		}
	}
	return data[:len(data)-padLen], nil
}
