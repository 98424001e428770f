package storagewrap

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/storage"
)

func TestFileKeySerializeRoundTrip(t *testing.T) {
	key := FileKey{
		Salt:  bytes.Repeat([]byte{0xAB}, saltLen),
		Nonce: bytes.Repeat([]byte{0xCD}, nonceLen),
		AAD:   "0123456789",
	}
	s := key.Serialize()
	if len(s) != FileKeyLen {
		t.Fatalf("Serialize() length = %d, want %d", len(s), FileKeyLen)
	}

	got, err := ParseFileKey(s)
	if err != nil {
		t.Fatalf("ParseFileKey error = %v", err)
	}
	if !bytes.Equal(got.Salt, key.Salt) || !bytes.Equal(got.Nonce, key.Nonce) || got.AAD != key.AAD {
		t.Errorf("ParseFileKey = %+v, want %+v", got, key)
	}
}

func TestParseFileKeyRejectsBadLength(t *testing.T) {
	if _, err := ParseFileKey("too-short"); err == nil {
		t.Error("expected error for malformed FileKey")
	}
}

func TestCompressionWrapperRoundTrip(t *testing.T) {
	mem := newMemBackend()
	w := NewCompressionWrapper(mem, 6)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/a/b.txt"}
	payload := bytes.Repeat([]byte("hello world "), 100)

	if err := w.Put(ctx, info, payload); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if info.Compression != "gzip:6" {
		t.Errorf("info.Compression = %q, want gzip:6", info.Compression)
	}

	raw, ok := mem.objects["a/b.txt"]
	if !ok {
		t.Fatal("backend did not receive object")
	}
	if bytes.Equal(raw, payload) {
		t.Error("backend received uncompressed payload")
	}

	got, err := w.Get(ctx, info)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}
}

func TestEncryptionWrapperRoundTrip(t *testing.T) {
	mem := newMemBackend()
	w := NewEncryptionWrapper(mem, "correct horse battery staple", false)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/a/secret.txt", SHA512: "deadbeefcafebabe0011223344556677"}
	payload := []byte("top secret content")

	if err := w.Put(ctx, info, payload); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if info.Encryption == "" {
		t.Fatal("info.Encryption not set after Put")
	}

	got, err := w.Get(ctx, info)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}
}

func TestEncryptionWrapperDetectsTamper(t *testing.T) {
	mem := newMemBackend()
	w := NewEncryptionWrapper(mem, "correct horse battery staple", false)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/a/secret.txt", SHA512: "deadbeefcafebabe0011223344556677"}

	if err := w.Put(ctx, info, []byte("original content")); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	stored := mem.objects["a/secret.txt"]
	tampered := make([]byte, len(stored))
	copy(tampered, stored)
	tampered[0] ^= 0xFF
	mem.objects["a/secret.txt"] = tampered

	if _, err := w.Get(ctx, info); err == nil {
		t.Error("expected AEAD verification failure on tampered ciphertext")
	}
}

func TestEncryptionWrapperRewritesStorageKeyWhenHashAsFilename(t *testing.T) {
	mem := newMemBackend()
	w := NewEncryptionWrapper(mem, "pw", true)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/a/original-name.txt", SHA512: "deadbeef"}

	if err := w.Put(ctx, info, []byte("data")); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if !strings.HasSuffix(info.StorageKey, ".enc") {
		t.Errorf("info.StorageKey = %q, want suffix .enc", info.StorageKey)
	}
	if info.Path != "/a/original-name.txt" {
		t.Errorf("info.Path = %q, want the logical path left untouched", info.Path)
	}

	got, err := w.Get(ctx, info)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != "data" {
		t.Errorf("Get() = %q, want %q", got, "data")
	}
}

// TestEncryptionWrapperHashModeAgainstRealBackend is the end-to-end
// regression for the bug where every real backend re-derived its storage
// key from SHA512 and silently discarded the wrapper's rewrite: it wires
// the encryption wrapper over an actual FileSystemBackend (not memBackend)
// and asserts the blob that lands on disk is named after the per-object
// nonce, not the content hash.
func TestEncryptionWrapperHashModeAgainstRealBackend(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fsBackend, err := storage.NewFileSystemBackend(root, true)
	if err != nil {
		t.Fatalf("NewFileSystemBackend error = %v", err)
	}
	defer fsBackend.Close()

	w := NewEncryptionWrapper(fsBackend, "correct horse battery staple", true)

	sha := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	infoA := &objinfo.Info{Path: "/first.txt", SHA512: sha}
	infoB := &objinfo.Info{Path: "/second.txt", SHA512: sha}

	if err := w.Put(ctx, infoA, []byte("same plaintext")); err != nil {
		t.Fatalf("Put(A) error = %v", err)
	}
	if err := w.Put(ctx, infoB, []byte("same plaintext")); err != nil {
		t.Fatalf("Put(B) error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("root has %d entries after two puts of identical plaintext, want 2 (no collision)", len(entries))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".enc") {
			t.Errorf("stored object name = %q, want suffix .enc", e.Name())
		}
		if strings.Contains(e.Name(), sha[:objinfo.HashPrefixLen]) {
			t.Errorf("stored object name %q leaks the content digest", e.Name())
		}
	}

	gotA, err := w.Get(ctx, infoA)
	if err != nil {
		t.Fatalf("Get(A) error = %v", err)
	}
	if string(gotA) != "same plaintext" {
		t.Errorf("Get(A) = %q, want %q", gotA, "same plaintext")
	}

	gotB, err := w.Get(ctx, infoB)
	if err != nil {
		t.Fatalf("Get(B) error = %v", err)
	}
	if string(gotB) != "same plaintext" {
		t.Errorf("Get(B) = %q, want %q", gotB, "same plaintext")
	}
}

func TestReplicationWrapperFanOut(t *testing.T) {
	primary := newMemBackend()
	replica1 := newMemBackend()
	replica2 := newMemBackend()
	w := NewReplicationWrapper(primary, replica1, replica2)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/r/file.txt"}

	if err := w.Put(ctx, info, []byte("payload")); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	for _, b := range []*memBackend{primary, replica1, replica2} {
		if _, ok := b.objects["r/file.txt"]; !ok {
			t.Error("replica did not receive put")
		}
	}

	if err := w.Remove(ctx, info); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	for _, b := range []*memBackend{primary, replica1, replica2} {
		if _, ok := b.objects["r/file.txt"]; ok {
			t.Error("replica still has object after Remove")
		}
	}
}

type failingBackend struct{ memBackend }

func (b *failingBackend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	return context.Canceled
}

func TestReplicationWrapperStopsAtFirstError(t *testing.T) {
	primary := newMemBackend()
	failing := &failingBackend{memBackend: *newMemBackend()}
	replica2 := newMemBackend()
	w := NewReplicationWrapper(primary, failing, replica2)
	ctx := context.Background()
	info := &objinfo.Info{Path: "/r/file.txt"}

	if err := w.Put(ctx, info, []byte("payload")); err == nil {
		t.Fatal("expected error from failing replica")
	}
	if _, ok := replica2.objects["r/file.txt"]; ok {
		t.Error("replica after the failing one should not have received put")
	}
}
