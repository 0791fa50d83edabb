package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/dustin/go-humanize"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/progress"
	"github.com/johndauphine/tg-migrate/internal/snapshot"
	"github.com/johndauphine/tg-migrate/internal/source"
)

const documentLogEvery = 20

func (e *Extractor) extractDocuments(ctx context.Context) error {
	if e.skipCompleted(checkpoint.PhaseDocuments) {
		return nil
	}

	queue := e.store.DocumentQueue()
	total := len(queue)
	switch {
	case total == 0:
		logging.Info("No documents to download")
		e.store.StartPhase(checkpoint.PhaseDocuments, 0)
		e.store.CompletePhase(checkpoint.PhaseDocuments)
		return nil
	case e.opts.SkipDocuments || !e.opts.DownloadDocuments:
		logging.Info("Skipping %d document downloads", total)
		e.store.StartPhase(checkpoint.PhaseDocuments, total)
		e.store.CompletePhase(checkpoint.PhaseDocuments)
		return nil
	}

	e.store.StartPhase(checkpoint.PhaseDocuments, total)
	logging.Info("=== Phase 8: Document Downloads (%d files) ===", total)

	manifest := e.loadManifest()
	metaCache := make(map[string][]documentMeta)
	tracker := progress.New("documents", total)

	var downloaded, failed int
	var totalBytes int64
	for _, doc := range queue {
		if err := ctx.Err(); err != nil {
			e.saveManifest(manifest)
			return err
		}

		entry, err := e.downloadDocument(ctx, doc, metaCache)
		switch {
		case err != nil && ctx.Err() != nil:
			e.saveManifest(manifest)
			return ctx.Err()
		case errors.Is(err, errNoDownloadURL):
			logging.Warn("No download URL found for document %s, skipping", doc.DocID)
			e.metrics.IncDocument(false, 0)
			failed++
		case err != nil:
			logging.Warn("Failed to download document %s (%s): %v", doc.DocID, doc.FileName, err)
			e.store.AddError(checkpoint.ErrorEntry{
				Phase:      checkpoint.PhaseDocuments,
				EntityID:   doc.DocID,
				Endpoint:   "doc/" + doc.DocID,
				StatusCode: source.StatusCode(err),
				Message:    err.Error(),
			})
			e.metrics.IncDocument(false, 0)
			failed++
		default:
			manifest[entry.DocID] = entry
			e.metrics.IncDocument(true, entry.Bytes)
			totalBytes += entry.Bytes
			downloaded++
		}

		tracker.Add(1)
		if n := downloaded + failed; n%documentLogEvery == 0 {
			logging.Info("  Documents progress: %d/%d (%d ok, %d failed)", n, total, downloaded, failed)
			e.store.UpdatePhaseProgress(checkpoint.PhaseDocuments, n, total)
			e.saveManifest(manifest)
		}
	}
	tracker.Finish()

	e.saveManifest(manifest)
	e.store.UpdatePhaseProgress(checkpoint.PhaseDocuments, downloaded+failed, total)
	e.store.CompletePhase(checkpoint.PhaseDocuments)
	logging.Info("Document downloads completed. %d downloaded (%s), %d failed",
		downloaded, humanize.Bytes(uint64(totalBytes)), failed)
	return nil
}

var errNoDownloadURL = errors.New("no download URL")

// downloadDocument resolves the latest version of a queued document and
// streams it to disk, then mirrors it when an uploader is enabled.
func (e *Extractor) downloadDocument(ctx context.Context, doc checkpoint.DocumentQueueEntry, cache map[string][]documentMeta) (snapshot.ManifestEntry, error) {
	metas, ok := cache[doc.TaskID]
	if !ok {
		rel := "tasks/" + doc.TaskID + "/documents/_index.json"
		if err := e.out.ReadJSON(rel, &metas); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return snapshot.ManifestEntry{}, fmt.Errorf("reading %s: %w", rel, err)
		}
		cache[doc.TaskID] = metas
	}

	var downloadURL string
	fileName := doc.FileName
	for _, m := range metas {
		if string(m.ID) != doc.DocID || len(m.Versions) == 0 {
			continue
		}
		latest := m.Versions[len(m.Versions)-1]
		downloadURL = latest.DownloadURL
		if latest.Name != "" {
			fileName = latest.Name
		}
		break
	}
	if downloadURL == "" {
		return snapshot.ManifestEntry{}, errNoDownloadURL
	}

	body, err := e.src.Stream(ctx, downloadURL)
	if err != nil {
		return snapshot.ManifestEntry{}, err
	}
	defer body.Close()

	rel := snapshot.DocumentPath(doc.TaskID, fileName)
	digest, n, err := e.out.WriteStream(rel, body)
	if err != nil {
		return snapshot.ManifestEntry{}, err
	}
	logging.Debug("Downloaded %s (%s, sha256 %s...)", rel, humanize.Bytes(uint64(n)), digest[:16])

	entry := snapshot.ManifestEntry{TaskID: doc.TaskID, DocID: doc.DocID, Path: rel, SHA256: digest, Bytes: n}
	if e.uploader != nil && e.uploader.Enabled() {
		key, err := e.uploader.Upload(ctx, e.out.Path(rel), rel, digest)
		if err != nil {
			logging.Warn("Upload of %s failed: %v", rel, err)
		} else {
			entry.ObjectKey = key
		}
	}
	return entry, nil
}

// loadManifest returns the entries of an earlier run keyed by document id.
func (e *Extractor) loadManifest() map[string]snapshot.ManifestEntry {
	entries, err := e.out.ReadManifest()
	if err != nil {
		logging.Warn("Ignoring unreadable manifest: %v", err)
	}
	m := make(map[string]snapshot.ManifestEntry, len(entries))
	for _, entry := range entries {
		m[entry.DocID] = entry
	}
	return m
}

func (e *Extractor) saveManifest(m map[string]snapshot.ManifestEntry) {
	if err := e.out.WriteManifest(m); err != nil {
		logging.Warn("Writing manifest: %v", err)
	}
}
