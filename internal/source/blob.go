package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobFetcher reads documents from an Azure Blob container
type BlobFetcher struct {
	client      *azblob.Client
	container   string
	maxFileSize int64
}

// NewBlobFetcher authenticates with a shared key against the account's
// default blob endpoint
func NewBlobFetcher(accountName, accountKey, container string, maxFileSize int64) (*BlobFetcher, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("blob account name and key are required")
	}
	if container == "" {
		return nil, fmt.Errorf("blob container is required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid blob credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobFetcher{client: client, container: container, maxFileSize: maxFileSize}, nil
}

// Fetch downloads a blob. ref is a blob name in the configured container;
// slashes are part of the name.
func (b *BlobFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	blobName := blobNameFromRef(ref)
	if blobName == "" {
		return nil, fmt.Errorf("invalid blob reference %q", ref)
	}

	resp, err := b.client.DownloadStream(ctx, b.container, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	body := resp.Body
	defer body.Close()

	if b.maxFileSize > 0 && resp.ContentLength != nil && *resp.ContentLength > b.maxFileSize {
		return nil, fmt.Errorf("blob size exceeds maximum: %d > %d bytes", *resp.ContentLength, b.maxFileSize)
	}

	reader := io.Reader(body)
	if b.maxFileSize > 0 {
		reader = io.LimitReader(body, b.maxFileSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if b.maxFileSize > 0 && int64(len(data)) > b.maxFileSize {
		return nil, fmt.Errorf("blob size exceeds maximum of %d bytes", b.maxFileSize)
	}
	return data, nil
}

// blobNameFromRef trims leading slashes so "/a/b.png" and "a/b.png" address
// the same blob
func blobNameFromRef(ref string) string {
	return strings.TrimLeft(strings.TrimSpace(ref), "/")
}
