package pics

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acm19/sortdate/internal/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	archiveSuffix = ".tar.gz"
	tempDirPrefix = "sortdate-backup-*"
)

// s3Client is the subset of the S3 API used for backup and restore
type s3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backup defines the interface for archiving dated directories to S3
type Backup interface {
	// BackupDirectories archives every dated directory under sourceDir to bucket.
	//
	// Only directories whose name starts with a YYYYMMDD stamp are archived. Each
	// becomes "<name> (<n> files).tar.gz". An object with the same key and the same
	// MD5 is skipped; the same key with different content is an error.
	BackupDirectories(ctx context.Context, sourceDir, bucket string, maxConcurrent int, progressChan chan<- ProgressEvent) error
	// RestoreDirectories downloads and extracts archives matching filter into targetDir.
	// Directories that already exist in targetDir are skipped.
	RestoreDirectories(ctx context.Context, bucket, targetDir string, filter RestoreFilter, maxConcurrent int, progressChan chan<- ProgressEvent) error
}

// s3Backup implements the Backup interface
type s3Backup struct {
	client s3Client
	stats  FileStats
}

// NewS3Backup creates a new Backup using the default AWS configuration chain
func NewS3Backup(ctx context.Context) (Backup, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &s3Backup{
		client: s3.NewFromConfig(cfg),
		stats:  NewFileStats(),
	}, nil
}

// BackupDirectories archives all dated directories in parallel
func (b *s3Backup) BackupDirectories(ctx context.Context, sourceDir, bucket string, maxConcurrent int, progressChan chan<- ProgressEvent) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	var directories []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, _, ok := HasDateStampPrefix(entry.Name()); !ok {
			logger.Debug("Skipping undated directory", "directory", entry.Name())
			continue
		}
		directories = append(directories, entry.Name())
	}

	if len(directories) == 0 {
		logger.Info("No dated directories found to backup")
		return nil
	}

	logger.Info("Starting S3 backup", "directories", len(directories), "bucket", bucket, "concurrency", maxConcurrent)

	progress := newProgressCounter("backup", len(directories), progressChan)
	err = runWorkerPool(directories, maxConcurrent, func(dirName string) error {
		defer progress.done(dirName)
		if err := b.backupDirectory(ctx, sourceDir, dirName, bucket); err != nil {
			logger.Error("Failed to backup directory", "directory", dirName, "error", err)
			return fmt.Errorf("directory %s: %w", dirName, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Backup completed successfully", "directories_backed_up", len(directories))
	return nil
}

// backupDirectory archives and uploads a single directory
func (b *s3Backup) backupDirectory(ctx context.Context, sourceDir, dirName, bucket string) error {
	dirPath := filepath.Join(sourceDir, dirName)

	fileCount, err := b.stats.GetFileCount(dirPath)
	if err != nil {
		return fmt.Errorf("failed to count files: %w", err)
	}
	s3Key := fmt.Sprintf("%s (%d files)%s", dirName, fileCount, archiveSuffix)

	tmpDir, cleanup, err := createTempDir(tempDirPrefix)
	if err != nil {
		return err
	}
	defer cleanup()

	archivePath := filepath.Join(tmpDir, "archive"+archiveSuffix)
	logger.Info("Creating archive", "directory", dirName, "files", fileCount)
	if err := createTarGz(dirPath, archivePath); err != nil {
		return fmt.Errorf("failed to create tar.gz: %w", err)
	}

	localHash, err := calculateMD5(archivePath)
	if err != nil {
		return fmt.Errorf("failed to calculate MD5: %w", err)
	}

	headOutput, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(s3Key),
	})
	if err == nil {
		remoteETag := b.extractETag(headOutput.ETag)
		if remoteETag == localHash {
			logger.Info("Object already exists in S3 with matching hash, skipping", "directory", dirName, "key", s3Key, "hash", localHash)
			return nil
		}
		return fmt.Errorf("hash mismatch for '%s': S3 object exists with different content (local: %s, remote: %s). Manual intervention required", s3Key, localHash, remoteETag)
	} else if !isNotFoundError(err) {
		return fmt.Errorf("failed to check S3 object existence: %w", err)
	}

	logger.Info("Uploading to S3", "directory", dirName, "bucket", bucket, "key", s3Key, "hash", localHash)
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(s3Key),
		Body:   file,
	}); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	logger.Info("Successfully backed up directory", "directory", dirName, "key", s3Key)
	return nil
}

// RestoreDirectories downloads and extracts matching archives in parallel
func (b *s3Backup) RestoreDirectories(ctx context.Context, bucket, targetDir string, filter RestoreFilter, maxConcurrent int, progressChan chan<- ProgressEvent) error {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, archiveSuffix) && b.matchesFilter(key, filter) {
				keys = append(keys, key)
			}
		}
	}

	if len(keys) == 0 {
		logger.Info("No archives match the filter", "bucket", bucket, "filter", filter)
		return nil
	}

	logger.Info("Starting restore", "archives", len(keys), "bucket", bucket, "target", targetDir)

	progress := newProgressCounter("restore", len(keys), progressChan)
	return runWorkerPool(keys, maxConcurrent, func(key string) error {
		defer progress.done(key)
		if err := b.restoreArchive(ctx, bucket, key, targetDir); err != nil {
			logger.Error("Failed to restore archive", "key", key, "error", err)
			return fmt.Errorf("archive %s: %w", key, err)
		}
		return nil
	})
}

// restoreArchive downloads and extracts a single archive
func (b *s3Backup) restoreArchive(ctx context.Context, bucket, key, targetDir string) error {
	dirName := b.extractDirNameFromKey(key)
	destDir := filepath.Join(targetDir, dirName)
	if _, err := os.Stat(destDir); err == nil {
		logger.Info("Directory already exists, skipping", "directory", destDir)
		return nil
	}

	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer output.Body.Close()

	if err := os.Mkdir(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := extractTarGz(output.Body, destDir); err != nil {
		os.RemoveAll(destDir)
		return fmt.Errorf("failed to extract: %w", err)
	}

	logger.Info("Restored directory", "key", key, "directory", destDir)
	return nil
}

// matchesFilter reports whether the date stamp in key lies inside filter
func (b *s3Backup) matchesFilter(key string, filter RestoreFilter) bool {
	year, month, ok := HasDateStampPrefix(b.extractDirNameFromKey(key))
	if !ok {
		return false
	}
	value := year*100 + month

	if filter.FromYear != 0 {
		fromMonth := filter.FromMonth
		if fromMonth == 0 {
			fromMonth = 1
		}
		if value < filter.FromYear*100+fromMonth {
			return false
		}
	}
	if filter.ToYear != 0 {
		toMonth := filter.ToMonth
		if toMonth == 0 {
			toMonth = 12
		}
		if value > filter.ToYear*100+toMonth {
			return false
		}
	}
	return true
}

// extractDirNameFromKey strips the archive suffix and the "(n files)" count
func (b *s3Backup) extractDirNameFromKey(key string) string {
	name := strings.TrimSuffix(key, archiveSuffix)
	if strings.HasSuffix(name, ")") {
		if idx := strings.LastIndex(name, " ("); idx >= 0 {
			name = name[:idx]
		}
	}
	return name
}

// extractETag returns the ETag without surrounding quotes
func (b *s3Backup) extractETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, `"`)
}

// isNotFoundError checks if the error is a NotFound error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NotFound" {
			return true
		}
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "StatusCode: 404")
}

// createTempDir creates a temporary directory and returns a cleanup function
func createTempDir(pattern string) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup := func() {
		logger.Debug("Cleaning up temporary directory", "path", tmpDir)
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Error("Failed to remove temporary directory", "path", tmpDir, "error", err)
		}
	}
	return tmpDir, cleanup, nil
}

// runWorkerPool runs fn over jobs with at most maxConcurrent workers and
// returns the first error after all jobs have finished
func runWorkerPool[T any](jobs []T, maxConcurrent int, fn func(T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	jobChan := make(chan T, len(jobs))
	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				if err := fn(job); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		if len(errs) > 1 {
			logger.Error("Multiple errors occurred", "error_count", len(errs))
		}
		return fmt.Errorf("%d of %d jobs failed: %w", len(errs), len(jobs), errs[0])
	}
	return nil
}

// progressCounter emits ProgressEvents from concurrent workers
type progressCounter struct {
	stage   string
	total   int
	ch      chan<- ProgressEvent
	mu      sync.Mutex
	current int
}

func newProgressCounter(stage string, total int, ch chan<- ProgressEvent) *progressCounter {
	return &progressCounter{stage: stage, total: total, ch: ch}
}

func (p *progressCounter) done(item string) {
	if p.ch == nil {
		return
	}
	p.mu.Lock()
	p.current++
	event := ProgressEvent{
		Stage:   p.stage,
		Current: p.current,
		Total:   p.total,
		Message: fmt.Sprintf("%s %d of %d", p.stage, p.current, p.total),
		File:    item,
	}
	p.mu.Unlock()

	select {
	case p.ch <- event:
	default:
		logger.Debug("Progress event dropped (channel full)", "stage", p.stage)
	}
}

// calculateMD5 calculates the MD5 hash of a file
func calculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// createTarGz creates a tar.gz archive of a directory
func createTarGz(sourceDir, targetFile string) error {
	file, err := os.Create(targetFile)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	tarWriter := tar.NewWriter(gzWriter)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tarWriter, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}
	return file.Close()
}

// extractTarGz extracts a tar.gz stream into destDir, rejecting entries that escape it
func extractTarGz(r io.Reader, destDir string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes target directory: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeArchiveFile(tarReader, target, header); err != nil {
				return err
			}
		default:
			logger.Debug("Skipping unsupported archive entry", "name", header.Name, "type", header.Typeflag)
		}
	}
}

func writeArchiveFile(r io.Reader, target string, header *tar.Header) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, os.FileMode(header.Mode).Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, header.ModTime, header.ModTime)
}
