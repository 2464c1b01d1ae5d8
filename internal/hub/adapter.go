// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/transformd/pkg/errors"
)

// downloadChunkSize is the streaming buffer size for product downloads.
const downloadChunkSize = 8 * 1024

// ResolvedProduct is the catalog answer for a product lookup.
type ResolvedProduct struct {
	// ID is the hub-internal product identifier.
	ID string

	// DownloadURL is where the product bytes can be fetched.
	DownloadURL string

	// ExpectedMD5 is the advertised MD5 digest, empty when the catalog does
	// not supply a usable one.
	ExpectedMD5 string
}

// Adapter is the per-hub download contract.
type Adapter interface {
	// Name returns the configured hub name.
	Name() string

	// Resolve looks the product up in the hub catalog.
	Resolve(ctx context.Context, product string) (ResolvedProduct, error)

	// Download fetches the product zip into dir and returns its path.
	Download(ctx context.Context, product, dir string) (string, error)
}

// stem strips a trailing file extension from a product reference so both
// "NAME.zip" and "NAME" resolve the same catalog entry.
func stem(product string) string {
	return strings.TrimSuffix(product, filepath.Ext(product))
}

// usableMD5 extracts an MD5 digest from a catalog checksum entry. Accepted
// forms are an explicit md5 algorithm, or a multihash value carrying the
// md5 code prefix. Anything else yields empty.
func usableMD5(algorithm, value string) string {
	if value == "" {
		return ""
	}
	if strings.EqualFold(algorithm, "md5") {
		return strings.ToLower(value)
	}
	// multihash: 0xd5 is the md5 code, followed by the length byte 0x10
	if algorithm == "" && len(value) == 36 && strings.HasPrefix(strings.ToLower(value), "d510") {
		return strings.ToLower(value[4:])
	}
	return ""
}

// fetchToFile streams a download response into dir, computing the MD5 inline
// and failing on mismatch with the expected digest.
func fetchToFile(resp *http.Response, dir, product, expectedMD5, hubName string, logger *slog.Logger) (string, error) {
	path := filepath.Join(dir, stem(product)+".zip")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer out.Close()

	hash := md5.New()
	var written int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			if _, err := out.Write(buf[:n]); err != nil {
				os.Remove(path)
				return "", fmt.Errorf("writing %s: %w", path, err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// a truncated zip must not survive, debug mode would reuse it
			os.Remove(path)
			return "", fmt.Errorf("streaming %s: %w", product, readErr)
		}
	}
	logger.Debug("product downloaded", "hub", hubName, "path", path, "bytes", written)

	if expectedMD5 != "" {
		digest := hex.EncodeToString(hash.Sum(nil))
		if digest != expectedMD5 {
			os.Remove(path)
			return "", &errors.DownloadError{
				Hub:     hubName,
				Product: product,
				Message: fmt.Sprintf("checksum does not match: got %s, expected %s", digest, expectedMD5),
			}
		}
	} else {
		logger.Warn("checksum cannot be verified, no usable digest in product info",
			"hub", hubName, "product", product)
	}
	return path, nil
}

// followRedirects chases 301/302/303/307/308 responses manually. Every hop
// is re-issued as a GET; setAuth only applies while the hop stays on the
// original host, so credentials are stripped on cross-origin redirects.
func followRedirects(ctx context.Context, client *http.Client, setAuth func(*http.Request) error, resp *http.Response, origin *url.URL) (*http.Response, error) {
	const maxHops = 10
	for hops := 0; hops < maxHops; hops++ {
		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			return resp, nil
		}

		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, fmt.Errorf("redirect without Location header")
		}
		next, err := origin.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
		if err != nil {
			return nil, err
		}
		if setAuth != nil && next.Host == origin.Host {
			if err := setAuth(req); err != nil {
				return nil, err
			}
		}
		resp, err = client.Do(req)
		if err != nil {
			return nil, err
		}
	}
	resp.Body.Close()
	return nil, fmt.Errorf("stopped after %d redirects", maxHops)
}
