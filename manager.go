package journey

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/downloader"
	"tidbyt.dev/journey/parse"
	"tidbyt.dev/journey/storage"
)

const (
	DefaultStaticRefreshInterval = 24 * time.Hour
	DefaultStaticTimeout         = 120 * time.Second
	DefaultStaticMaxSize         = 200 << 20 // 200 MB
	DefaultScheduleCacheSize     = 2
)

var ErrNoActiveFeed = errors.New("no active feed found")

// Manager keeps static feeds in storage up to date, and hands out
// indexed Schedules for them.
type Manager struct {
	StaticTimeout         time.Duration
	StaticMaxSize         int
	StaticRefreshInterval time.Duration
	Downloader            downloader.Downloader

	// When set, downloads are served from the downloader's cache
	// for this long.
	DownloadCacheTTL time.Duration

	// Number of indexed feed versions kept in memory. Read when
	// the first schedule is loaded.
	ScheduleCacheSize int

	Logger  *slog.Logger
	Metrics *Metrics

	storage storage.Storage

	// Indexing a feed is expensive, so recent versions are kept
	// around, keyed by hash.
	mutex     sync.Mutex
	schedules gcache.Cache
}

// Creates a new Manager of GTFS data, on top of the given storage.
//
// Static feeds are persisted in storage, so by default the downloader
// doesn't cache them.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		StaticTimeout:         DefaultStaticTimeout,
		StaticMaxSize:         DefaultStaticMaxSize,
		StaticRefreshInterval: DefaultStaticRefreshInterval,
		ScheduleCacheSize:     DefaultScheduleCacheSize,

		Downloader: downloader.NewMemoryDownloader(),
		Logger:     slog.Default(),

		storage: s,
	}
}

// Applies feed settings from config.
func (m *Manager) Configure(cfg config.Feed) {
	m.StaticTimeout = time.Duration(cfg.DownloadTimeoutSeconds) * time.Second
	m.StaticMaxSize = cfg.MaxSizeMB << 20
	m.StaticRefreshInterval = time.Duration(cfg.RefreshIntervalMinutes) * time.Minute
	if cfg.ScheduleCacheSize > 0 {
		m.ScheduleCacheSize = cfg.ScheduleCacheSize
	}
}

// Loads a static feed, retrieving it right away if nothing usable is
// in storage yet.
func (m *Manager) LoadSchedule(
	ctx context.Context,
	consumer string,
	staticURL string,
	staticHeaders map[string]string,
	when time.Time,
) (*Schedule, error) {
	schedule, err := m.LoadScheduleAsync(consumer, staticURL, staticHeaders, when)
	if !errors.Is(err, ErrNoActiveFeed) {
		return schedule, err
	}

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: staticURL})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	requests, err := m.storage.ListFeedRequests(staticURL)
	if err != nil {
		return nil, fmt.Errorf("listing feed requests: %w", err)
	}
	if len(requests) == 0 {
		return nil, ErrNoActiveFeed
	}

	// Feeds that were retrieved but aren't active are only
	// retried once stale.
	if len(feeds) > 0 && !m.stale(requests[0]) {
		return nil, ErrNoActiveFeed
	}

	feedsByHash, err := m.feedsByHash()
	if err != nil {
		return nil, err
	}
	err = m.processRequest(ctx, requests[0], feedsByHash)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", staticURL, err)
	}

	return m.LoadScheduleAsync(consumer, staticURL, staticHeaders, when)
}

// Loads a static feed from storage.
//
// If a feed is available in storage, and active at the given time, it
// is returned immediately. Otherwise, ErrNoActiveFeed is returned.
//
// Unless already present, a FeedRequest for this URL will be placed
// in storage, to track consumers and headers. Refresh() will pick it
// up.
func (m *Manager) LoadScheduleAsync(
	consumer string,
	staticURL string,
	staticHeaders map[string]string,
	when time.Time,
) (*Schedule, error) {
	now := time.Now().UTC()

	// Make sure a request exists for this consumer, URL and headers.
	err := m.storage.WriteFeedRequest(storage.FeedRequest{
		URL: staticURL,
		Consumers: []storage.FeedConsumer{
			{
				Name:      consumer,
				Headers:   serializeHeaders(staticHeaders),
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("writing feed request: %w", err)
	}

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: staticURL})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	return m.loadMostRecentActive(feeds, when)
}

// Refreshes any feeds that might need refreshing.
func (m *Manager) Refresh(ctx context.Context) error {
	feedsByHash, err := m.feedsByHash()
	if err != nil {
		return err
	}

	// Check all requests for URLs in need of refreshing
	requests, err := m.storage.ListFeedRequests("")
	if err != nil {
		return fmt.Errorf("listing feed requests: %w", err)
	}

	errs := []error{}
	for _, req := range requests {
		if !m.stale(req) {
			continue
		}
		err = m.processRequest(ctx, req, feedsByHash)
		if err != nil {
			m.Logger.Warn("feed refresh failed", "url", req.URL, "error", err)
			errs = append(errs, fmt.Errorf("refreshing feed at %s: %w", req.URL, err))
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) stale(req storage.FeedRequest) bool {
	return req.RefreshedAt.Before(time.Now().Add(-m.StaticRefreshInterval))
}

// Hash of every feed in storage
func (m *Manager) feedsByHash() (map[string][]*storage.FeedMetadata, error) {
	feedsByHash := map[string][]*storage.FeedMetadata{}
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	for _, feed := range feeds {
		feedsByHash[feed.Hash] = append(feedsByHash[feed.Hash], feed)
	}
	return feedsByHash, nil
}

func (m *Manager) countRefresh(result string) {
	if m.Metrics != nil {
		m.Metrics.FeedRefreshesTotal.WithLabelValues(result).Inc()
	}
}

// Downloads a requested URL. A randomly selected consumer's headers
// will be used. If the data is already in storage, a copy may be made
// to ensure a FeedMetadata record with the hash and this URL
// exists. New FeedMetadata records are added to the feedByHash map
// passed in as arg.
func (m *Manager) processRequest(
	ctx context.Context,
	req storage.FeedRequest,
	feedByHash map[string][]*storage.FeedMetadata,
) error {
	headers := map[string]string{}
	if len(req.Consumers) > 0 {
		var err error
		headers, err = deserializeHeaders(req.Consumers[rand.Intn(len(req.Consumers))].Headers)
		if err != nil {
			return fmt.Errorf("deserializing headers: %w", err)
		}
	}

	// Download the feed and compute its hash
	body, err := m.Downloader.Get(
		ctx,
		req.URL,
		headers,
		downloader.GetOptions{
			Cache:    m.DownloadCacheTTL > 0,
			CacheTTL: m.DownloadCacheTTL,
			Timeout:  m.StaticTimeout,
			MaxSize:  m.StaticMaxSize,
		},
	)
	if err != nil {
		m.countRefresh("download_error")
		return fmt.Errorf("downloading feed at %s: %w", req.URL, err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	// The data we just downloaded may already exist in storage.
	feeds := feedByHash[hash]
	if len(feeds) > 0 {
		found := false
		for _, feed := range feeds {
			if feed.URL == req.URL {
				found = true
				break
			}
		}
		if !found {
			// It's in storage, but for a different
			// URL. Add a metadata record for this URL.
			metadata := *feeds[0]
			metadata.URL = req.URL

			feedByHash[hash] = append(feedByHash[hash], &metadata)

			err = m.storage.WriteFeedMetadata(&metadata)
			if err != nil {
				return fmt.Errorf("writing metadata: %w", err)
			}
		}
		m.countRefresh("unchanged")
	} else {
		// Hash doesn't exist in storage. Parse the feed.
		writer, err := m.storage.GetWriter(hash)
		if err != nil {
			return fmt.Errorf("getting writer: %w", err)
		}
		defer writer.Close()

		metadata, summary, err := parse.ParseStatic(writer, body)
		if err != nil {
			m.countRefresh("parse_error")

			// If the downloaded data is broken (parse
			// failed), we still mark the request as
			// refreshed.
			req.RefreshedAt = time.Now().UTC()
			reqErr := m.storage.WriteFeedRequest(req)
			if reqErr != nil {
				return errors.Join(
					fmt.Errorf("writing feed request: %w", reqErr),
					fmt.Errorf("parsing: %w", err),
				)
			}

			return fmt.Errorf("parsing: %w", err)
		}

		metadata.Hash = hash
		metadata.URL = req.URL
		metadata.RetrievedAt = time.Now().UTC()

		feedByHash[hash] = append(feedByHash[hash], metadata)

		err = m.storage.WriteFeedMetadata(metadata)
		if err != nil {
			return fmt.Errorf("writing metadata: %w", err)
		}

		m.Logger.Info(
			"retrieved new feed",
			"url", req.URL,
			"hash", hash,
			"bytes", len(body),
			"routes", summary.Routes,
			"trips", summary.Trips,
			"stops", summary.Stops,
			"stop_times", summary.StopTimes,
			"untimed_stop_times", summary.UntimedStopTimes,
		)
		m.countRefresh("updated")
	}

	// Mark the request as refreshed.
	req.RefreshedAt = time.Now().UTC()
	err = m.storage.WriteFeedRequest(req)
	if err != nil {
		return fmt.Errorf("writing feed request: %w", err)
	}

	return nil
}

// Selects the most recently retrieved feed from feeds that is also
// active at the given time.
func (m *Manager) loadMostRecentActive(feeds []*storage.FeedMetadata, when time.Time) (*Schedule, error) {
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.Before(feeds[j].RetrievedAt)
	})

	for i := len(feeds) - 1; i >= 0; i-- {
		ok, err := feedActive(feeds[i], when)
		if err != nil {
			return nil, fmt.Errorf("checking if feed is active: %w", err)
		}
		if !ok {
			continue
		}

		// This is the one!
		return m.schedule(feeds[i])
	}

	return nil, ErrNoActiveFeed
}

func (m *Manager) schedule(metadata *storage.FeedMetadata) (*Schedule, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.schedules == nil {
		m.schedules = gcache.New(max(1, m.ScheduleCacheSize)).
			LRU().
			EvictedFunc(func(key, _ interface{}) {
				m.Logger.Debug("evicted schedule", "hash", key)
			}).
			Build()
	}

	if v, err := m.schedules.Get(metadata.Hash); err == nil {
		return v.(*Schedule), nil
	}

	reader, err := m.storage.GetReader(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	start := time.Now()
	s, err := NewSchedule(reader, metadata)
	if err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	stats := s.Index.Stats()
	m.Logger.Info(
		"indexed feed",
		"hash", metadata.Hash,
		"stops", stats.Stops,
		"trips", stats.Trips,
		"stop_times", stats.StopTimes,
		"skipped_trips", stats.SkippedTrips,
		"skipped_stop_times", stats.SkippedStopTimes,
		"elapsed", time.Since(start),
	)
	if m.Metrics != nil {
		m.Metrics.ScheduleBuilds.Inc()
	}

	if err := m.schedules.Set(metadata.Hash, s); err != nil {
		return nil, fmt.Errorf("caching schedule: %w", err)
	}
	return s, nil
}

func feedActive(feed *storage.FeedMetadata, now time.Time) (bool, error) {
	feedTz, err := time.LoadLocation(feed.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone: %w", err)
	}

	todayThere := now.In(feedTz).Format("20060102")

	if feed.CalendarStartDate > todayThere {
		return false, nil
	}
	if feed.CalendarEndDate < todayThere {
		return false, nil
	}

	return true, nil
}

func serializeHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", url.QueryEscape(k), url.QueryEscape(headers[k])))
	}
	return strings.Join(pairs, "&")
}

func deserializeHeaders(serialized string) (map[string]string, error) {
	headers := map[string]string{}
	if serialized == "" {
		return headers, nil
	}

	for _, pair := range strings.Split(serialized, "&") {
		parts := strings.Split(pair, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header: %s", pair)
		}
		key, err := url.QueryUnescape(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid header: %s", pair)
		}
		headers[key], err = url.QueryUnescape(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid header: %s", pair)
		}
	}
	return headers, nil
}
