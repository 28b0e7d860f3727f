package infra

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"limit_go/internal/domain"

	"github.com/disintegration/imaging"
)

// IconCache downloads and caches token logos for the chat UI layer.
type IconCache struct {
	basePath string
	client   *http.Client
}

// NewIconCache creates an IconCache rooted at dir.
func NewIconCache(dir string) (*IconCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create icon directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconCache{
		basePath: dir,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// FetchIcon downloads the token's logo if not already cached and
// returns the local file path. Images are resized to 64x64 pixels for
// consistent display in chat messages.
func (c *IconCache) FetchIcon(token *domain.Token) (string, error) {
	if token.LogoURI == "" {
		return "", fmt.Errorf("token %s has no logo URI", token.Address)
	}

	// Security: Sanitize the mint address to prevent path traversal
	safeName := sanitizeMint(token.Address)
	if safeName == "" {
		return "", fmt.Errorf("invalid token address: %s", token.Address)
	}

	filePath := filepath.Join(c.basePath, safeName+".png")

	// Check if exists
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Already exists (Cache Hit)
	}

	resp, err := c.client.Get(token.LogoURI)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Resize to 64x64 with high-quality Lanczos filter
	resizedImg := imaging.Resize(srcImg, 64, 64, imaging.Lanczos)

	if err := imaging.Save(resizedImg, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}

	return filePath, nil
}

// sanitizeMint keeps only base58 alphabet characters.
func sanitizeMint(mint string) string {
	var b strings.Builder
	for _, r := range mint {
		switch {
		case r >= '1' && r <= '9',
			r >= 'A' && r <= 'H',
			r >= 'J' && r <= 'N',
			r >= 'P' && r <= 'Z',
			r >= 'a' && r <= 'k',
			r >= 'm' && r <= 'z':
			b.WriteRune(r)
		default:
			return ""
		}
	}
	if b.Len() == 0 || b.Len() > 64 {
		return ""
	}
	return b.String()
}
