// Package content tracks the freshness of generated learning material. Each
// (user, language pair, kind) has one current version pinned to the history
// record count at generation time; the count is both the staleness signal for
// the UI and the version the coin ledger checks attempts against.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

// Versions is the client-side cache of current content versions.
type Versions struct {
	store remote.Store
	log   *slog.Logger

	mu    sync.Mutex
	cache map[string]domain.ContentVersion
}

func NewVersions(store remote.Store, logger *slog.Logger) *Versions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Versions{
		store: store,
		log:   logger,
		cache: make(map[string]domain.ContentVersion),
	}
}

func cacheKey(uid string, pair domain.LanguagePair, kind domain.ContentKind) string {
	return uid + "|" + string(pair) + "|" + string(kind)
}

func docPath(uid string, pair domain.LanguagePair, kind domain.ContentKind) (string, error) {
	switch kind {
	case domain.KindSheet:
		return domain.LearningSheetDoc(uid, pair), nil
	case domain.KindQuiz:
		return domain.GeneratedQuizDoc(uid, pair), nil
	default:
		return "", fmt.Errorf("unknown content kind %q", kind)
	}
}

// Current returns the live version for (uid, pair, kind), reading through the
// cache.
func (v *Versions) Current(ctx context.Context, uid string, pair domain.LanguagePair, kind domain.ContentKind) (domain.ContentVersion, bool, error) {
	key := cacheKey(uid, pair, kind)
	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return cached, true, nil
	}
	v.mu.Unlock()

	path, err := docPath(uid, pair, kind)
	if err != nil {
		return domain.ContentVersion{}, false, err
	}
	doc, ok, err := v.store.GetOnce(ctx, path)
	if err != nil {
		return domain.ContentVersion{}, false, fmt.Errorf("load content version: %w", err)
	}
	if !ok {
		return domain.ContentVersion{}, false, nil
	}
	version, err := domain.DecodeContentVersion(doc)
	if err != nil {
		return domain.ContentVersion{}, false, err
	}
	v.mu.Lock()
	v.cache[key] = version
	v.mu.Unlock()
	return version, true, nil
}

// RecordGeneration overwrites the current version after the generation flow
// produced new content at historyCount records.
func (v *Versions) RecordGeneration(ctx context.Context, uid string, pair domain.LanguagePair, kind domain.ContentKind, historyCount int) (domain.ContentVersion, error) {
	path, err := docPath(uid, pair, kind)
	if err != nil {
		return domain.ContentVersion{}, err
	}
	version := domain.ContentVersion{
		LanguagePair:           pair,
		Kind:                   kind,
		HistoryCountAtGenerate: historyCount,
		GeneratedAt:            time.Now().UTC(),
	}
	if err := v.store.Write(ctx, path, domain.EncodeContentVersion(version), remote.ModeSet); err != nil {
		return domain.ContentVersion{}, fmt.Errorf("record generation: %w", err)
	}
	v.mu.Lock()
	v.cache[cacheKey(uid, pair, kind)] = version
	v.mu.Unlock()
	return version, nil
}

// CanRegenerateQuiz gates quiz regeneration: the learning sheet must be at
// least as fresh as the quiz about to be generated from it.
func (v *Versions) CanRegenerateQuiz(ctx context.Context, uid string, pair domain.LanguagePair, targetHistoryCount int) (bool, error) {
	sheet, ok, err := v.Current(ctx, uid, pair, domain.KindSheet)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return sheet.HistoryCountAtGenerate >= targetHistoryCount, nil
}

// Invalidate drops every cached version for uid; called at logout.
func (v *Versions) Invalidate(uid string) {
	prefix := uid + "|"
	v.mu.Lock()
	for key := range v.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(v.cache, key)
		}
	}
	v.mu.Unlock()
}

// Outdated is the pure UI staleness signal: the stored version is older than
// the live history record count. It never blocks anything by itself.
func Outdated(version domain.ContentVersion, liveHistoryCount int) bool {
	return version.HistoryCountAtGenerate < liveHistoryCount
}
