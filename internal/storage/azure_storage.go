package storage

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobStorage reads label images stored in a blob container
type BlobStorage interface {
	GetImage(ctx context.Context, containerName, blobName string) (image.Image, error)
}

type azureStorage struct {
	client   *azblob.Client
	maxBytes int64
}

// NewAzureStorage connects to the account's blob endpoint with a shared key
func NewAzureStorage(accountName string, accountKey string, maxBytes int64) (BlobStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &azureStorage{client: client, maxBytes: maxBytes}, nil
}

func (s *azureStorage) GetImage(ctx context.Context, containerName, blobName string) (image.Image, error) {
	containerName = strings.Trim(containerName, "/ ")
	blobName = strings.TrimLeft(blobName, "/ ")
	if containerName == "" || blobName == "" {
		return nil, fmt.Errorf("container and blob name are required")
	}

	downloadResponse, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	var r io.Reader = retryReader
	if s.maxBytes > 0 {
		r = io.LimitReader(retryReader, s.maxBytes)
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode blob image: %w", err)
	}
	return img, nil
}
