package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "veriback/internal/config"
)

// S3Storage is both a promotion destination and a bucket capture
// source: SyncToDir materializes the bucket contents as a raw-tree
// artifact for verification.
type S3Storage struct {
	client     *s3.Client
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
}

type S3Options struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func NewS3(opts S3Options) (*S3Storage, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Storage{
		client:     client,
		uploader:   s3manager.NewUploader(client),
		downloader: s3manager.NewDownloader(client),
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
	}, nil
}

// NewS3Destination builds an S3 promotion target from configuration.
func NewS3Destination(cfg appconfig.DestinationConfig) (*S3Storage, error) {
	return NewS3(S3Options{
		Region:    cfg.Region,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Prefix:    cfg.Prefix,
	})
}

func (s *S3Storage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := filepath.Join(s.prefix, remoteName)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

func (s *S3Storage) Delete(ctx context.Context, remoteName string) error {
	key := filepath.Join(s.prefix, remoteName)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (s *S3Storage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	var oldFiles []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &s.prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified.Before(cutoffTime) {
				name := strings.TrimPrefix(*obj.Key, s.prefix)
				name = strings.TrimPrefix(name, "/")
				if name != "" {
					oldFiles = append(oldFiles, name)
				}
			}
		}
	}
	return oldFiles, nil
}

// CountObjects returns the bucket's object cardinality under the
// configured prefix; this is the count signature for bucket units.
func (s *S3Storage) CountObjects(ctx context.Context) (int64, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// SyncToDir downloads every object under the prefix into localDir,
// preserving key paths. The resulting tree is the bucket's raw-tree
// backup artifact.
func (s *S3Storage) SyncToDir(ctx context.Context, localDir string) (int64, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return 0, err
	}

	var downloaded int64
	for _, key := range keys {
		rel := strings.TrimPrefix(key, s.prefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}

		localPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return downloaded, fmt.Errorf("create directory for %s: %w", rel, err)
		}

		file, err := os.Create(localPath)
		if err != nil {
			return downloaded, fmt.Errorf("create %s: %w", localPath, err)
		}

		_, err = s.downloader.Download(ctx, file, &s3.GetObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		})
		file.Close()
		if err != nil {
			return downloaded, fmt.Errorf("download %s: %w", key, err)
		}
		downloaded++
	}
	return downloaded, nil
}

func (s *S3Storage) listKeys(ctx context.Context) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &s.prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}
