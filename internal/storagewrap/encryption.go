package storagewrap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/storage"
	"github.com/objectfs/shadowfs/pkg/errors"
)

const (
	pbkdf2Iterations = 256 // low by design: paid on every access
	aesKeyLen        = 32  // AES-256
	saltLen          = 32
	nonceLen         = 12
)

// EncryptionWrapper provides AES-256-GCM authenticated encryption with a
// per-object salt and nonce. The master password is never stored, nor is
// the derived key; only the FileKey descriptor (salt:nonce:aad) persists
// in File.encryption_key.
//
// Every Put draws a fresh random nonce, so two files with identical
// plaintext are stored as different ciphertext: under the SHA512 dedup
// policy, encrypted objects never share a blob.
//
// Mutually exclusive with CompressionWrapper: the authenticated ciphertext
// is what protects integrity once encryption is enabled, per spec.md §4.3.
type EncryptionWrapper struct {
	next              storage.Backend
	masterPassword    []byte
	useHashAsFilename bool
}

// NewEncryptionWrapper wraps next with AES-256-GCM encryption derived from
// masterPassword. useHashAsFilename controls whether puts rewrite the
// object's storage key to the per-object nonce, so the backend never
// stores the plaintext content digest as a filename.
func NewEncryptionWrapper(next storage.Backend, masterPassword string, useHashAsFilename bool) *EncryptionWrapper {
	return &EncryptionWrapper{
		next:              next,
		masterPassword:    []byte(masterPassword),
		useHashAsFilename: useHashAsFilename,
	}
}

func deriveKey(masterPassword, salt []byte) []byte {
	return pbkdf2.Key(masterPassword, salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

func (w *EncryptionWrapper) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(w.masterPassword, salt))
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "aes cipher init failed").
			WithComponent("storagewrap").WithOperation("encrypt").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "gcm init failed").
			WithComponent("storagewrap").WithOperation("encrypt").WithCause(err)
	}
	return gcm, nil
}

func (w *EncryptionWrapper) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return errors.New(errors.ErrCodeInternal, "salt generation failed").
			WithComponent("storagewrap").WithOperation("encrypt_put").WithCause(err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return errors.New(errors.ErrCodeInternal, "nonce generation failed").
			WithComponent("storagewrap").WithOperation("encrypt_put").WithCause(err)
	}

	aad := info.SHA512
	if len(aad) > aadHexLen {
		aad = aad[:aadHexLen]
	}

	gcm, err := w.gcm(salt)
	if err != nil {
		return err
	}
	ciphertext := gcm.Seal(nil, nonce, data, []byte(aad))

	key := FileKey{Salt: salt, Nonce: nonce, AAD: aad}
	info.Encryption = key.Serialize()

	if w.useHashAsFilename {
		// Hide the content digest behind the per-object nonce instead
		// of letting the backend hash-derive a key from SHA512: two
		// files with identical plaintext must not collide on storage
		// identity. info.StorageKey is what the backend actually
		// writes to; see objinfo.DerivedKey.
		info.StorageKey = hex.EncodeToString(nonce) + ".enc"
	}

	return w.next.Put(ctx, info, ciphertext)
}

func (w *EncryptionWrapper) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	if info.Encryption == "" {
		return w.next.Get(ctx, info)
	}

	key, err := ParseFileKey(info.Encryption)
	if err != nil {
		return nil, err
	}
	if w.useHashAsFilename {
		info.StorageKey = hex.EncodeToString(key.Nonce) + ".enc"
	}

	raw, err := w.next.Get(ctx, info)
	if err != nil {
		return nil, err
	}
	gcm, err := w.gcm(key.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, key.Nonce, raw, []byte(key.AAD))
	if err != nil {
		return nil, errors.New(errors.ErrCodeIntegrity, "AEAD tag mismatch").
			WithComponent("storagewrap").WithOperation("encrypt_get").WithCause(err)
	}
	return plaintext, nil
}

// resolveStorageKey sets info.StorageKey from its persisted Encryption
// descriptor so that Remove/Rename address the same object identity Put
// actually wrote, instead of letting the backend re-derive a key from
// SHA512 that was never the one used on disk.
func (w *EncryptionWrapper) resolveStorageKey(info *objinfo.Info) error {
	if !w.useHashAsFilename || info.Encryption == "" {
		return nil
	}
	key, err := ParseFileKey(info.Encryption)
	if err != nil {
		return err
	}
	info.StorageKey = hex.EncodeToString(key.Nonce) + ".enc"
	return nil
}

func (w *EncryptionWrapper) Remove(ctx context.Context, info *objinfo.Info) error {
	if err := w.resolveStorageKey(info); err != nil {
		return err
	}
	return w.next.Remove(ctx, info)
}

func (w *EncryptionWrapper) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	if err := w.resolveStorageKey(oldInfo); err != nil {
		return err
	}
	// In hash mode the backing key is tied to the per-object nonce, not
	// the logical path, so renaming at the metadata layer addresses the
	// same physical object under both ends of the call.
	newInfo.StorageKey = oldInfo.StorageKey
	return w.next.Rename(ctx, oldInfo, newInfo)
}

func (w *EncryptionWrapper) Nuke(ctx context.Context) error {
	return w.next.Nuke(ctx)
}

func (w *EncryptionWrapper) HealthCheck(ctx context.Context) error {
	return w.next.HealthCheck(ctx)
}

func (w *EncryptionWrapper) Close() error {
	return w.next.Close()
}
