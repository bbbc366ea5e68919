package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// StreamEncryptionMagic is the file header for streaming encrypted files
	StreamEncryptionMagic = "SFSE1"
	// StreamEncryptionVersion is the version byte
	StreamEncryptionVersion = 0x01
	// DefaultEncryptionChunkSize is the default plaintext chunk size (64KB)
	DefaultEncryptionChunkSize = 64 * 1024
	// MaxEncryptionChunkSize bounds the chunk size accepted from a header
	MaxEncryptionChunkSize = 64 * 1024 * 1024

	headerSize = len(StreamEncryptionMagic) + 1 + 4 // magic(5) + version(1) + chunk_size(4)
)

// ErrNotEncrypted is returned when a file does not carry the SFSE1 header.
var ErrNotEncrypted = errors.New("not an SFSE1 stream")

// Encryptor implements SFSE1 streaming AES-256-GCM encryption with one static key.
//
// Layout: magic "SFSE1", version byte, uint32 little-endian plaintext chunk size,
// then one record per chunk: nonce(12) + ciphertext + tag(16). Every record has its
// own random nonce, so any chunk can be decrypted without the others.
type Encryptor struct {
	gcm       cipher.AEAD
	chunkSize int
}

// NewEncryptor creates an Encryptor. key must be 32 bytes; chunkSize <= 0 selects
// DefaultEncryptionChunkSize.
func NewEncryptor(key []byte, chunkSize int) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256, got %d", len(key))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultEncryptionChunkSize
	}
	if chunkSize > MaxEncryptionChunkSize {
		return nil, fmt.Errorf("chunk size %d exceeds maximum %d", chunkSize, MaxEncryptionChunkSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm, chunkSize: chunkSize}, nil
}

// NewEncryptorFromHex creates an Encryptor from a 64-character hexadecimal key.
func NewEncryptorFromHex(keyHex string, chunkSize int) (*Encryptor, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	return NewEncryptor(key, chunkSize)
}

// ChunkSize returns the plaintext chunk size written into new streams.
func (e *Encryptor) ChunkSize() int {
	return e.chunkSize
}

// EncryptStream reads plaintext from src and writes an SFSE1 stream to dst.
// Returns the number of plaintext bytes consumed.
func (e *Encryptor) EncryptStream(dst io.Writer, src io.Reader) (int64, error) {
	header := make([]byte, headerSize)
	copy(header, StreamEncryptionMagic)
	header[len(StreamEncryptionMagic)] = StreamEncryptionVersion
	binary.LittleEndian.PutUint32(header[len(StreamEncryptionMagic)+1:], uint32(e.chunkSize))
	if _, err := dst.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	buffer := make([]byte, e.chunkSize)
	sealed := make([]byte, 0, e.gcm.NonceSize()+e.chunkSize+e.gcm.Overhead())
	var total int64

	for {
		n, err := io.ReadFull(src, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return total, fmt.Errorf("failed to read plaintext: %w", err)
		}

		if n > 0 {
			nonce := sealed[:e.gcm.NonceSize()]
			if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
				return total, fmt.Errorf("failed to generate nonce: %w", err)
			}

			record := e.gcm.Seal(nonce, nonce, buffer[:n], nil)
			if _, err := dst.Write(record); err != nil {
				return total, fmt.Errorf("failed to write chunk: %w", err)
			}
			total += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	return total, nil
}

// readHeader validates an SFSE1 header and returns the plaintext chunk size.
func readHeader(src io.Reader) (int, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(src, header)
	if err != nil {
		if n < len(StreamEncryptionMagic) || string(header[:len(StreamEncryptionMagic)]) != StreamEncryptionMagic {
			return 0, ErrNotEncrypted
		}
		return 0, fmt.Errorf("truncated header: %w", err)
	}
	if string(header[:len(StreamEncryptionMagic)]) != StreamEncryptionMagic {
		return 0, ErrNotEncrypted
	}
	if header[len(StreamEncryptionMagic)] != StreamEncryptionVersion {
		return 0, fmt.Errorf("unsupported version: %d", header[len(StreamEncryptionMagic)])
	}

	chunkSize := int(binary.LittleEndian.Uint32(header[len(StreamEncryptionMagic)+1:]))
	if chunkSize <= 0 || chunkSize > MaxEncryptionChunkSize {
		return 0, fmt.Errorf("invalid chunk size in header: %d", chunkSize)
	}
	return chunkSize, nil
}

// DecryptStream reads an SFSE1 stream from src and writes the plaintext to dst.
// Returns the number of plaintext bytes written.
func (e *Encryptor) DecryptStream(dst io.Writer, src io.Reader) (int64, error) {
	chunkSize, err := readHeader(src)
	if err != nil {
		return 0, err
	}

	overhead := e.gcm.NonceSize() + e.gcm.Overhead()
	buffer := make([]byte, chunkSize+overhead)
	var total int64

	for index := 0; ; index++ {
		n, err := io.ReadFull(src, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return total, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		if n == 0 {
			break
		}
		if n < overhead {
			return total, fmt.Errorf("chunk %d too small: %d bytes", index, n)
		}

		plaintext, openErr := e.openRecord(buffer[:n])
		if openErr != nil {
			return total, fmt.Errorf("failed to decrypt chunk %d: %w", index, openErr)
		}

		written, werr := dst.Write(plaintext)
		total += int64(written)
		if werr != nil {
			return total, fmt.Errorf("failed to write plaintext: %w", werr)
		}

		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
	}

	return total, nil
}

func (e *Encryptor) openRecord(record []byte) ([]byte, error) {
	nonce := record[:e.gcm.NonceSize()]
	return e.gcm.Open(nil, nonce, record[e.gcm.NonceSize():], nil)
}

// DecryptRange writes plaintext bytes [start, end] (inclusive) of an SFSE1 file to w,
// decrypting only the chunks that overlap the range.
func (e *Encryptor) DecryptRange(path string, w io.Writer, start, end int64) (int64, error) {
	if start < 0 || end < start {
		return 0, fmt.Errorf("invalid range: start=%d, end=%d", start, end)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	chunkSize, err := readHeader(f)
	if err != nil {
		return 0, err
	}

	size := int64(chunkSize)
	recordSize := int64(chunkSize + e.gcm.NonceSize() + e.gcm.Overhead())
	startChunk := start / size
	endChunk := end / size

	if _, err := f.Seek(int64(headerSize)+startChunk*recordSize, io.SeekStart); err != nil {
		return 0, err
	}

	buffer := make([]byte, recordSize)
	var total int64

	for current := startChunk; current <= endChunk; current++ {
		n, err := io.ReadFull(f, buffer)
		if err != nil && err != io.ErrUnexpectedEOF {
			if err == io.EOF {
				break
			}
			return total, err
		}

		plaintext, openErr := e.openRecord(buffer[:n])
		if openErr != nil {
			return total, fmt.Errorf("failed to decrypt chunk %d: %w", current, openErr)
		}

		lo := int64(0)
		if current == startChunk {
			lo = start % size
		}
		hi := int64(len(plaintext))
		if current == endChunk && end%size+1 < hi {
			hi = end%size + 1
		}

		if lo < hi {
			written, err := w.Write(plaintext[lo:hi])
			total += int64(written)
			if err != nil {
				return total, err
			}
		}

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	return total, nil
}

// EncryptFile encrypts srcPath into dstPath through a temp file and rename.
// Returns the number of plaintext bytes encrypted.
func (e *Encryptor) EncryptFile(srcPath, dstPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, NewStorageError("EncryptFile", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, NewStorageError("EncryptFile", dstPath, err)
	}

	tempPath := dstPath + ".tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, NewStorageError("EncryptFile", tempPath, err)
	}

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	n, err := e.EncryptStream(tempFile, src)
	if err != nil {
		return n, NewStorageError("EncryptFile", srcPath, err)
	}

	if err := tempFile.Sync(); err != nil {
		return n, NewStorageError("EncryptFile", tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		return n, NewStorageError("EncryptFile", tempPath, err)
	}
	if err := os.Rename(tempPath, dstPath); err != nil {
		return n, NewStorageError("EncryptFile", dstPath, err)
	}

	succeeded = true
	slog.Debug("file encrypted",
		"source", srcPath,
		"destination", dstPath,
		"plaintext_bytes", n,
	)

	return n, nil
}

// DecryptFile decrypts an SFSE1 file at srcPath into dstPath.
func (e *Encryptor) DecryptFile(srcPath, dstPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, NewStorageError("DecryptFile", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, NewStorageError("DecryptFile", dstPath, err)
	}

	tempPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, NewStorageError("DecryptFile", tempPath, err)
	}

	n, err := e.DecryptStream(dst, src)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(tempPath)
		return n, NewStorageError("DecryptFile", srcPath, err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return n, NewStorageError("DecryptFile", tempPath, closeErr)
	}

	if err := os.Rename(tempPath, dstPath); err != nil {
		os.Remove(tempPath)
		return n, NewStorageError("DecryptFile", dstPath, err)
	}

	return n, nil
}

// OpenDecrypted returns a reader of the plaintext of an SFSE1 file.
// Decryption runs in a goroutine feeding a pipe; closing the reader stops it.
func (e *Encryptor) OpenDecrypted(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		_, err := e.DecryptStream(pw, f)
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// StreamChunkSize returns the plaintext chunk size recorded in the header of
// an SFSE1 file.
func StreamChunkSize(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return readHeader(file)
}

// IsStreamEncrypted checks if a file is encrypted with SFSE1 format.
func IsStreamEncrypted(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	magic := make([]byte, len(StreamEncryptionMagic))
	n, err := io.ReadFull(file, magic)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	if n < len(StreamEncryptionMagic) {
		return false, nil
	}

	return string(magic) == StreamEncryptionMagic, nil
}
