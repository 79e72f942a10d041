package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/soniclab/swsslite/internal/retry"
)

// Client is a connection to the etcd backend shared by all databases. Each
// database is a prefix-scoped view obtained via Store.
type Client struct {
	client *clientv3.Client
	root   string
}

// Open connects to the backend described by dsn.
func Open(dsn string) (*Client, error) {
	config, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store DSN: %w", err)
	}

	client, err := clientv3.New(*config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logrus.WithField("endpoints", config.Endpoints).Info("Connected to etcd backend")

	return &Client{
		client: client,
		root:   rootPrefix(dsn),
	}, nil
}

// OpenWithRetry connects with bounded exponential backoff and verifies the
// backend answers a read before returning. Exhausting the retries means the
// backend is unavailable, which is fatal at agent startup.
func OpenWithRetry(ctx context.Context, dsn string) (*Client, error) {
	config := retry.StoreDefaults()

	var client *Client
	err := retry.WithOperation(ctx, config, func() error {
		var attemptErr error
		client, attemptErr = Open(dsn)
		if attemptErr != nil {
			return attemptErr
		}

		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, probeErr := client.client.Get(probeCtx, "healthcheck"); probeErr != nil {
			client.Close()
			return probeErr
		}
		return nil
	}, "store_connect")

	if err != nil {
		logrus.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return client, nil
}

// Close closes the backend connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Store returns the prefix-scoped store for the named database.
func (c *Client) Store(db string) *EtcdStore {
	prefix := c.root + db + "/"
	return &EtcdStore{client: c.client, prefix: prefix, db: db}
}

// EtcdStore implements Store over one database prefix. Records are stored
// as a single JSON document per key, so every write is atomic and produces
// exactly one watch event.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
	db     string
}

var _ Store = (*EtcdStore)(nil)

// Get retrieves the record stored under key.
func (s *EtcdStore) Get(ctx context.Context, key string) (Record, error) {
	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}

	return decodeRecord(resp.Kvs[0].Value, key)
}

// Set stores the record under key.
func (s *EtcdStore) Set(ctx context.Context, key string, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", key, err)
	}

	resp, err := s.client.Put(ctx, s.prefix+key, string(value))
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"db":       s.db,
		"key":      key,
		"revision": resp.Header.Revision,
	}).Debug("Put record")

	return nil
}

// Delete removes the record under key.
func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	resp, err := s.client.Delete(ctx, s.prefix+key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"db":      s.db,
		"key":     key,
		"deleted": resp.Deleted,
	}).Debug("Deleted record")

	return nil
}

// Scan returns all records under prefix, sorted by key.
func (s *EtcdStore) Scan(ctx context.Context, prefix string) ([]KeyRecord, error) {
	resp, err := s.client.Get(ctx, s.prefix+prefix,
		clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}

	out := make([]KeyRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), s.prefix)
		rec, err := decodeRecord(kv.Value, key)
		if err != nil {
			return nil, err
		}
		out = append(out, KeyRecord{Key: key, Record: rec})
	}

	return out, nil
}

// Watch returns change events for keys under prefix, with automatic watch
// re-establishment when the underlying etcd watch is interrupted. The
// channel carries only events issued after the call.
func (s *EtcdStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	events := make(chan Event)

	go func() {
		defer close(events)

		var currentRevision int64

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := []clientv3.OpOption{clientv3.WithPrefix()}
			if currentRevision > 0 {
				opts = append(opts, clientv3.WithRev(currentRevision+1))
			}
			watchChan := s.client.Watch(ctx, s.prefix+prefix, opts...)
			logrus.WithFields(logrus.Fields{
				"db":       s.db,
				"prefix":   prefix,
				"revision": currentRevision,
			}).Info("Started store watch")

			if !s.forward(ctx, watchChan, events, &currentRevision) {
				return
			}

			logrus.WithFields(logrus.Fields{
				"db":       s.db,
				"revision": currentRevision,
			}).Warn("Restarting store watch")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	return events, nil
}

// forward drains one etcd watch stream into events. It returns false when
// the watcher should stop and true when the stream broke and should be
// re-established.
func (s *EtcdStore) forward(ctx context.Context, watchChan clientv3.WatchChan, events chan<- Event, revision *int64) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case watchResp, ok := <-watchChan:
			if !ok {
				return ctx.Err() == nil
			}
			if watchResp.Canceled {
				logrus.Warn("Store watch canceled")
				return ctx.Err() == nil
			}
			if err := watchResp.Err(); err != nil {
				logrus.WithError(err).Error("Store watch error")
				return true
			}

			for _, ev := range watchResp.Events {
				if ev.Kv.ModRevision > *revision {
					*revision = ev.Kv.ModRevision
				}

				out := Event{
					Key: strings.TrimPrefix(string(ev.Kv.Key), s.prefix),
					Op:  OpSet,
				}
				if ev.Type == clientv3.EventTypeDelete {
					out.Op = OpDelete
				}

				select {
				case events <- out:
				case <-ctx.Done():
					return false
				}
			}
		}
	}
}

func decodeRecord(value []byte, key string) (Record, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return rec, nil
}

// parseDSN parses the store DSN format:
// etcd://[user:password@]host1:port1[,host2:port2]/[prefix]?param=value
func parseDSN(dsn string) (*clientv3.Config, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store DSN is required")
	}

	if !strings.HasPrefix(dsn, "etcd://") {
		return nil, fmt.Errorf("store DSN must start with etcd://")
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	endpoints := strings.Split(u.Host, ",")
	for i, endpoint := range endpoints {
		if !strings.Contains(endpoint, ":") {
			endpoints[i] = endpoint + ":2379" // Default etcd port
		}
	}

	config := &clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	}

	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		if username != "" {
			config.Username = username
		}
		if password != "" {
			config.Password = password
		}
	}

	params := u.Query()

	if timeout := params.Get("dial_timeout"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.DialTimeout = d
		}
	}

	if username := params.Get("username"); username != "" {
		config.Username = username
	}

	if password := params.Get("password"); password != "" {
		config.Password = password
	}

	if tlsParam := params.Get("tls"); tlsParam == "enabled" {
		// Basic TLS config - in production this should be more sophisticated
		config.TLS = &tls.Config{
			InsecureSkipVerify: true, // For development - should be configurable
		}
	}

	return config, nil
}

// rootPrefix extracts the key prefix from the DSN path. All database
// prefixes hang off this root.
func rootPrefix(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/"
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
