// Package s3 implements transport.Transport on an S3 bucket shared by every
// unit of the replica set and by the requesting applications.
//
// Object Layout:
//
//	Object               Key Format                              Value
//	=====================================================================
//	Joined marker        <prefix>/joined                         empty
//	Peer announcement    <prefix>/peers/<unit>.json              transport.PeerUnit (JSON)
//	Mount request        <prefix>/requests/<identifier>.json     transport.MountRequest (JSON)
//	Mount response       <prefix>/responses/<unit>/<id>.json     transport.MountResponse (JSON)
//
// Unit names and identifiers are path-escaped, so "nfs/0" is stored as
// "nfs%2F0". The requester side creates the joined marker; until it exists
// ListMountRequests reports transport.ErrNotJoined.
//
// Announcements carry no TTL. Close deletes the ones this transport wrote, so
// a unit that shuts down cleanly drops out of ListPeers and the next unit in
// the preference list takes over. A unit that crashes keeps its announcement
// until an operator deletes <prefix>/peers/<unit>.json.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/transport"
)

// API is the subset of the S3 client the transport uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures the S3 transport.
type Config struct {
	Client API

	Bucket string

	// KeyPrefix namespaces every object, usually one prefix per application.
	KeyPrefix string

	// Unit is the local unit name. Responses are written under it and the
	// local announcement is excluded from ListPeers.
	Unit string
}

// closeTimeout bounds the announcement cleanup done by Close.
const closeTimeout = 10 * time.Second

// Transport is an S3-backed transport.Transport.
type Transport struct {
	client API
	bucket string
	prefix string
	unit   string

	mu        sync.Mutex
	announced map[string]struct{}
}

// New creates an S3 transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Unit == "" {
		return nil, fmt.Errorf("local unit name is required")
	}

	return &Transport{
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix:    strings.Trim(cfg.KeyPrefix, "/"),
		unit:      cfg.Unit,
		announced: make(map[string]struct{}),
	}, nil
}

func (t *Transport) key(parts ...string) string {
	if t.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{t.prefix}, parts...)...)
}

func (t *Transport) joinedKey() string { return t.key("joined") }

func (t *Transport) peerKey(unit string) string {
	return t.key("peers", url.PathEscape(unit)+".json")
}

func (t *Transport) responsesPrefix() string {
	return t.key("responses", url.PathEscape(t.unit)) + "/"
}

func (t *Transport) responseKey(identifier string) string {
	return t.responsesPrefix() + url.PathEscape(identifier) + ".json"
}

// ListPeers implements transport.PeerSource. The peer relation always exists
// on a shared bucket, so this never returns transport.ErrNotJoined.
func (t *Transport) ListPeers(ctx context.Context) ([]transport.PeerUnit, error) {
	var peers []transport.PeerUnit

	err := t.eachObject(ctx, t.key("peers")+"/", func(key string, data []byte) error {
		var p transport.PeerUnit
		if err := json.Unmarshal(data, &p); err != nil {
			logger.Warn("Ignoring malformed peer announcement %s: %v", key, err)
			return nil
		}
		if p.Name == "" || p.Name == t.unit {
			return nil
		}
		peers = append(peers, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	return peers, nil
}

// ListMountRequests implements transport.Transport.
func (t *Transport) ListMountRequests(ctx context.Context) ([]transport.MountRequest, error) {
	joined, err := t.exists(ctx, t.joinedKey())
	if err != nil {
		return nil, fmt.Errorf("failed to check joined marker: %w", err)
	}
	if !joined {
		return nil, transport.ErrNotJoined
	}

	var requests []transport.MountRequest

	err = t.eachObject(ctx, t.key("requests")+"/", func(key string, data []byte) error {
		var r transport.MountRequest
		if err := json.Unmarshal(data, &r); err != nil {
			logger.Warn("Ignoring malformed mount request %s: %v", key, err)
			return nil
		}
		requests = append(requests, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list mount requests: %w", err)
	}

	return requests, nil
}

// Publish implements transport.Transport. Responses for identifiers not in
// responses are deleted.
func (t *Transport) Publish(ctx context.Context, responses []transport.MountResponse) error {
	keep := make(map[string]struct{}, len(responses))

	for _, r := range responses {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode response %s: %w", r.Identifier, err)
		}

		key := t.responseKey(r.Identifier)
		if err := t.put(ctx, key, data); err != nil {
			return fmt.Errorf("failed to publish response %s: %w", r.Identifier, err)
		}
		keep[key] = struct{}{}
	}

	var stale []string
	err := t.eachKey(ctx, t.responsesPrefix(), func(key string) error {
		if _, ok := keep[key]; !ok {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list published responses: %w", err)
	}

	for _, key := range stale {
		_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete stale response %s: %w", key, err)
		}
	}

	return nil
}

// Announce implements transport.Announcer by writing the local unit's peer
// object.
func (t *Transport) Announce(ctx context.Context, unit transport.PeerUnit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to encode peer announcement: %w", err)
	}
	key := t.peerKey(unit.Name)
	if err := t.put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to announce %s: %w", unit.Name, err)
	}

	t.mu.Lock()
	t.announced[key] = struct{}{}
	t.mu.Unlock()
	return nil
}

// Close implements transport.Transport. It deletes every announcement written
// through Announce.
func (t *Transport) Close() error {
	t.mu.Lock()
	keys := make([]string, 0, len(t.announced))
	for key := range t.announced {
		keys = append(keys, key)
	}
	t.announced = make(map[string]struct{})
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for _, key := range keys {
		_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to withdraw announcement %s: %w", key, err))
			continue
		}
		logger.Debug("Withdrew peer announcement %s", key)
	}
	return errors.Join(errs...)
}

func (t *Transport) put(ctx context.Context, key string, data []byte) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (t *Transport) get(ctx context.Context, key string) ([]byte, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	return io.ReadAll(out.Body)
}

func (t *Transport) exists(ctx context.Context, key string) (bool, error) {
	_, err := t.get(ctx, key)
	if err == nil {
		return true, nil
	}
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

func (t *Transport) eachKey(ctx context.Context, prefix string, fn func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Transport) eachObject(ctx context.Context, prefix string, fn func(key string, data []byte) error) error {
	return t.eachKey(ctx, prefix, func(key string) error {
		data, err := t.get(ctx, key)
		if err != nil {
			var notFound *types.NoSuchKey
			if errors.As(err, &notFound) {
				// Deleted between list and get.
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		return fn(key, data)
	})
}
