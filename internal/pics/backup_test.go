package pics

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// memoryS3 is an in-memory s3Client keyed by bucket then object key.
type memoryS3 struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte
	puts    int
}

func newMemoryS3() *memoryS3 {
	return &memoryS3{objects: make(map[string]map[string][]byte)}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (c *memoryS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket := aws.ToString(params.Bucket)
	if c.objects[bucket] == nil {
		c.objects[bucket] = make(map[string][]byte)
	}
	c.objects[bucket][aws.ToString(params.Key)] = data
	c.puts++
	return &s3.PutObjectOutput{ETag: aws.String(etagOf(data))}, nil
}

func (c *memoryS3) object(bucket, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.objects[bucket][key]
	return data, ok
}

func (c *memoryS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := c.object(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("key does not exist")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...))),
		ETag: aws.String(etagOf(data)),
	}, nil
}

func (c *memoryS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := c.object(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if !ok {
		return nil, &types.NotFound{Message: aws.String("key does not exist")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(etagOf(data)),
	}, nil
}

func (c *memoryS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var contents []types.Object
	for key := range c.objects[aws.ToString(params.Bucket)] {
		contents = append(contents, types.Object{Key: aws.String(key)})
	}
	sort.Slice(contents, func(i, j int) bool { return *contents[i].Key < *contents[j].Key })
	return &s3.ListObjectsV2Output{Contents: contents, KeyCount: aws.Int32(int32(len(contents)))}, nil
}

func (c *memoryS3) keys(bucket string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	for key := range c.objects[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newTestBackup(client s3Client) *s3Backup {
	return &s3Backup{client: client, stats: NewFileStats()}
}

// writeTree creates files (slash separated, relative to root) with their own name as content.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, name := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}
}

func TestBackup_BackupDirectories(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir,
		"20230615_Rome/a.jpg",
		"20230615_Rome/b.jpg",
		"20230615_Rome/raw/c.dng",
		"20231225_/d.jpg",
		"holidays/e.jpg",
		"loose.jpg",
	)

	client := newMemoryS3()
	if err := newTestBackup(client).BackupDirectories(testContext(t), sourceDir, "bucket", 2, nil); err != nil {
		t.Fatalf("BackupDirectories failed: %v", err)
	}

	want := []string{"20230615_Rome (3 files).tar.gz", "20231225_ (1 files).tar.gz"}
	if got := client.keys("bucket"); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("keys = %q, want %q", got, want)
	}
}

func TestBackup_SkipsUnchangedArchive(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir, "20230615_Rome/a.jpg")

	client := newMemoryS3()
	backup := newTestBackup(client)
	for i := 0; i < 2; i++ {
		if err := backup.BackupDirectories(testContext(t), sourceDir, "bucket", 1, nil); err != nil {
			t.Fatalf("backup %d failed: %v", i+1, err)
		}
	}
	if client.puts != 1 {
		t.Errorf("expected a single upload, got %d", client.puts)
	}
}

func TestBackup_HashMismatch(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir, "20230615_Rome/a.jpg")

	client := newMemoryS3()
	client.objects["bucket"] = map[string][]byte{"20230615_Rome (1 files).tar.gz": []byte("other content")}

	err := newTestBackup(client).BackupDirectories(testContext(t), sourceDir, "bucket", 1, nil)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch error, got %v", err)
	}
}

func TestBackup_RoundTrip(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeTree(t, sourceDir, "20230615_Rome/a.jpg", "20230615_Rome/raw/c.dng")

	client := newMemoryS3()
	backup := newTestBackup(client)
	if err := backup.BackupDirectories(testContext(t), sourceDir, "bucket", 1, nil); err != nil {
		t.Fatalf("BackupDirectories failed: %v", err)
	}

	progress := make(chan ProgressEvent, 10)
	if err := backup.RestoreDirectories(testContext(t), "bucket", targetDir, RestoreFilter{}, 1, progress); err != nil {
		t.Fatalf("RestoreDirectories failed: %v", err)
	}

	for _, name := range []string{"a.jpg", "raw/c.dng"} {
		data, err := os.ReadFile(filepath.Join(targetDir, "20230615_Rome", filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("expected %s to be restored: %v", name, err)
			continue
		}
		if string(data) != "20230615_Rome/"+name {
			t.Errorf("%s content = %q", name, data)
		}
	}

	select {
	case event := <-progress:
		if event.Stage != "restore" || event.Current != 1 || event.Total != 1 {
			t.Errorf("unexpected progress event: %+v", event)
		}
	default:
		t.Error("expected a restore progress event")
	}
}

func TestBackup_RestoreSkipsExistingDirectory(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeTree(t, sourceDir, "20230615_Rome/a.jpg")
	writeTree(t, targetDir, "20230615_Rome/mine.jpg")

	client := newMemoryS3()
	backup := newTestBackup(client)
	if err := backup.BackupDirectories(testContext(t), sourceDir, "bucket", 1, nil); err != nil {
		t.Fatalf("BackupDirectories failed: %v", err)
	}
	if err := backup.RestoreDirectories(testContext(t), "bucket", targetDir, RestoreFilter{}, 1, nil); err != nil {
		t.Fatalf("RestoreDirectories failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(targetDir, "20230615_Rome", "a.jpg")); !os.IsNotExist(err) {
		t.Error("existing directory should not be overwritten")
	}
}

func TestBackup_RestoreWithFilter(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()
	writeTree(t, sourceDir,
		"20221231_/a.jpg",
		"20230315_Rome/a.jpg",
		"20231225_/a.jpg",
		"20240101_Paris/a.jpg",
	)

	client := newMemoryS3()
	backup := newTestBackup(client)
	if err := backup.BackupDirectories(testContext(t), sourceDir, "bucket", 3, nil); err != nil {
		t.Fatalf("BackupDirectories failed: %v", err)
	}

	filter := RestoreFilter{FromYear: 2023, FromMonth: 3, ToYear: 2023}
	if err := backup.RestoreDirectories(testContext(t), "bucket", targetDir, filter, 2, nil); err != nil {
		t.Fatalf("RestoreDirectories failed: %v", err)
	}

	for dir, want := range map[string]bool{
		"20221231_":      false,
		"20230315_Rome":  true,
		"20231225_":      true,
		"20240101_Paris": false,
	} {
		_, err := os.Stat(filepath.Join(targetDir, dir))
		if got := err == nil; got != want {
			t.Errorf("%s restored = %v, want %v", dir, got, want)
		}
	}
}

func TestBackup_MatchesFilter(t *testing.T) {
	b := newTestBackup(nil)
	tests := []struct {
		key    string
		filter RestoreFilter
		want   bool
	}{
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{}, true},
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{FromYear: 2023, FromMonth: 6}, true},
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{FromYear: 2023, FromMonth: 7}, false},
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{ToYear: 2023, ToMonth: 6}, true},
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{ToYear: 2023, ToMonth: 5}, false},
		{"20230615_Rome (3 files).tar.gz", RestoreFilter{ToYear: 2022}, false},
		{"holidays (3 files).tar.gz", RestoreFilter{}, false},
	}
	for _, tt := range tests {
		if got := b.matchesFilter(tt.key, tt.filter); got != tt.want {
			t.Errorf("matchesFilter(%q, %+v) = %v, want %v", tt.key, tt.filter, got, tt.want)
		}
	}
}

func TestBackup_ExtractDirNameFromKey(t *testing.T) {
	b := newTestBackup(nil)
	tests := map[string]string{
		"20230615_Rome (3 files).tar.gz":       "20230615_Rome",
		"20230615_ (1 files).tar.gz":           "20230615_",
		"20230615_Rome (old) (2 files).tar.gz": "20230615_Rome (old)",
		"20230615_Rome.tar.gz":                 "20230615_Rome",
	}
	for key, want := range tests {
		if got := b.extractDirNameFromKey(key); got != want {
			t.Errorf("extractDirNameFromKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestIsNotFoundError(t *testing.T) {
	if !isNotFoundError(&types.NotFound{}) {
		t.Error("types.NotFound should be a not found error")
	}
	if !isNotFoundError(fmt.Errorf("head: %w", &types.NotFound{})) {
		t.Error("wrapped types.NotFound should be a not found error")
	}
	if isNotFoundError(errors.New("access denied")) {
		t.Error("access denied is not a not found error")
	}
	if isNotFoundError(nil) {
		t.Error("nil is not a not found error")
	}
}

func TestRunWorkerPool(t *testing.T) {
	var (
		running, peak atomic.Int32
		processed     atomic.Int32
	)
	jobs := []int{1, 2, 3, 4, 5, 6, 7, 8}
	err := runWorkerPool(jobs, 3, func(job int) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		processed.Add(1)
		if job%4 == 0 {
			return fmt.Errorf("job %d failed", job)
		}
		return nil
	})

	if processed.Load() != int32(len(jobs)) {
		t.Errorf("processed %d jobs, want %d", processed.Load(), len(jobs))
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds limit", peak.Load())
	}
	if err == nil || !strings.HasPrefix(err.Error(), "2 of 8 jobs failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateAndExtractTarGz(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir, "a.jpg", "inner/b.jpg")
	archive := filepath.Join(t.TempDir(), "a.tar.gz")
	if err := createTarGz(sourceDir, archive); err != nil {
		t.Fatalf("createTarGz failed: %v", err)
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dest := t.TempDir()
	if err := extractTarGz(f, dest); err != nil {
		t.Fatalf("extractTarGz failed: %v", err)
	}
	for _, name := range []string{"a.jpg", "inner/b.jpg"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(name))); err != nil {
			t.Errorf("expected extracted %s: %v", name, err)
		}
	}
}

func TestExtractTarGz_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("escape")
	if err := tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()

	parent := t.TempDir()
	dest := filepath.Join(parent, "restored")
	if err := os.Mkdir(dest, 0755); err != nil {
		t.Fatal(err)
	}
	if err := extractTarGz(&buf, dest); err == nil {
		t.Fatal("expected an error for an entry escaping the target directory")
	}
	if _, err := os.Stat(filepath.Join(parent, "evil.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry must not be written")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
