package supabase

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) *StorageClient {
	baseURL := trimBaseURL(supabaseURL)
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

// StoragePath is stories/{user_id}/{job_id}/chapter-{n}.png.
func StoragePath(userID, jobID uuid.UUID, chapter int) string {
	return fmt.Sprintf("stories/%s/%s/chapter-%d.png", userID.String(), jobID.String(), chapter)
}

// PutImage uploads a chapter illustration and returns its public URL. Uploads
// upsert, so re-running a chapter after a crash overwrites the same object.
func (s *StorageClient) PutImage(ctx context.Context, userID, jobID uuid.UUID, chapter int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	storagePath := StoragePath(userID, jobID, chapter)
	contentType := "image/png"
	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		s.baseURL, s.bucket, storagePath)
}
