package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"videoshop/internal/model"
	"videoshop/pkg/logger"
	vnet "videoshop/pkg/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ==================== ObjectStore ====================

// ObjectStore public blob storage for mirrored product media.
type ObjectStore interface {
	// Put stores data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
	// Owns reports whether url already points into this store.
	Owns(url string) bool
}

type StorageConfig struct {
	Provider  string // "s3" | "local"
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // S3-compatible endpoint; local: public base URL
	CDNDomain string
	BasePath  string
}

func NewObjectStore(cfg *StorageConfig) (ObjectStore, error) {
	switch cfg.Provider {
	case "", "s3":
		return NewS3Store(cfg)
	case "local":
		return NewLocalStore(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// ==================== S3 ====================

type S3Store struct {
	client    *s3.Client
	bucket    string
	region    string
	cdnDomain string
}

func NewS3Store(cfg *StorageConfig) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		cdnDomain: cfg.CDNDomain,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.publicURL(key), nil
}

func (s *S3Store) Delete(ctx context.Context, url string) error {
	key := s.extractKey(url)
	if key == "" {
		return fmt.Errorf("not an object url: %s", url)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *S3Store) Owns(url string) bool {
	return s.extractKey(url) != ""
}

func (s *S3Store) publicURL(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *S3Store) extractKey(url string) string {
	prefixes := []string{fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.bucket, s.region)}
	if s.cdnDomain != "" {
		prefixes = append(prefixes, fmt.Sprintf("https://%s/", s.cdnDomain))
	}
	for _, p := range prefixes {
		if strings.HasPrefix(url, p) {
			return strings.TrimPrefix(url, p)
		}
	}
	return ""
}

// ==================== Local ====================

// LocalStore writes objects below a directory, for development and tests.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(cfg *StorageConfig) *LocalStore {
	dir := cfg.BasePath
	if dir == "" {
		dir = "./uploads"
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = "http://localhost:8080/uploads"
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

func (s *LocalStore) Delete(_ context.Context, url string) error {
	if !s.Owns(url) {
		return fmt.Errorf("not an object url: %s", url)
	}
	key := strings.TrimPrefix(url, s.baseURL+"/")
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) Owns(url string) bool {
	return strings.HasPrefix(url, s.baseURL+"/")
}

// ==================== ImageMirror ====================

const maxMirrorBytes = 10 << 20

// ImageMirror copies supplier images into our own storage so product pages
// do not hotlink supplier CDNs.
type ImageMirror struct {
	store    ObjectStore
	basePath string
	http     *resty.Client
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewImageMirror(store ObjectStore, basePath string) *ImageMirror {
	return &ImageMirror{
		store:    store,
		basePath: strings.Trim(basePath, "/"),
		http:     vnet.NewClient(vnet.ClientConfig{Timeout: 30 * time.Second}),
		now:      time.Now,
		log:      logger.Named("[ImageMirror]"),
	}
}

// Mirror downloads sourceURL and stores it under a fresh key.
func (m *ImageMirror) Mirror(ctx context.Context, sourceURL string, productID int64) (string, error) {
	resp, err := m.http.R().SetContext(ctx).Get(sourceURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("download %s: http %d", sourceURL, resp.StatusCode())
	}
	data := resp.Body()
	if len(data) == 0 || len(data) > maxMirrorBytes {
		return "", fmt.Errorf("download %s: unexpected size %d", sourceURL, len(data))
	}

	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("download %s: not an image (%s)", sourceURL, contentType)
	}

	return m.store.Put(ctx, m.key(sourceURL, productID), data, contentType)
}

func (m *ImageMirror) key(sourceURL string, productID int64) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(sourceURL, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
	default:
		ext = ".jpg"
	}
	parts := []string{
		"products",
		fmt.Sprintf("%d", productID),
		m.now().Format("2006/01/02"),
		uuid.New().String() + ext,
	}
	if m.basePath != "" {
		parts = append([]string{m.basePath}, parts...)
	}
	return strings.Join(parts, "/")
}

// MirrorProduct replaces the canonical image with a mirrored copy. Returns
// false when there was nothing to do.
func (m *ImageMirror) MirrorProduct(ctx context.Context, p *model.Product) (bool, error) {
	src := p.PrimaryImage()
	if src == "" || m.store.Owns(src) {
		return false, nil
	}
	url, err := m.Mirror(ctx, src, p.ID)
	if err != nil {
		return false, err
	}
	p.Images[0] = url
	m.log.Debugw("image mirrored", "product", p.ID, "from", src, "to", url)
	return true, nil
}
