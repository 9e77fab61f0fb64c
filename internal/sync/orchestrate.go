package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vonshlovens/fieldsync/internal/media"
)

// SyncAll runs the combined flow: photos of server-known owners first, then
// the data sync (which may give local-only owners their server ids), then
// the photos that became uploadable. progress receives a running
// completed/total counter across all three stages.
func (e *Engine) SyncAll(ctx context.Context, progress func(Progress)) AllResult {
	v, _, _ := e.flight.Do("all/"+e.session.Key(), func() (any, error) {
		return e.syncAll(ctx, progress), nil
	})
	return v.(AllResult)
}

func (e *Engine) syncAll(ctx context.Context, progress func(Progress)) (out AllResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("combined sync panicked", "panic", r)
			out = AllResult{Message: fmt.Sprintf("sync aborted: %v", r)}
		}
	}()

	if e.media == nil {
		data := e.SyncPendingChanges(ctx)
		return AllResult{Success: data.Success, Message: data.Message, Data: data}
	}

	status := e.checker.Check(ctx)
	if !status.Online() {
		data := Result{Offline: true, Message: msgOffline, Error: status.Err().Error(), Phase: PhaseFailed}
		e.record(data)
		return AllResult{Message: msgOffline, Data: data}
	}

	counts, err := e.PendingCount(ctx)
	if err != nil {
		data := failed(err.Error())
		e.record(data)
		return AllResult{Message: data.Message, Data: data}
	}

	p := &Progress{Total: counts.Media + counts.Total() + counts.Deletions}
	emit := func(stage string) {
		p.Stage = stage
		if progress != nil {
			progress(*p)
		}
	}
	emit("starting")

	upload := func(stage string) *media.UploadResult {
		base := p.Completed
		res, err := e.media.UploadPendingPhotos(ctx, media.UploadOptions{
			Progress: func(done, _ int) {
				p.Completed = min(base+done, p.Total)
				emit(stage)
			},
		})
		if err != nil {
			slog.Error("photo upload pass failed", "stage", stage, "error", err)
			return &media.UploadResult{Errors: []media.UploadFailure{{Err: err}}}
		}
		// skipped photos are counted again by the next pass
		p.Completed -= res.Skipped
		return res
	}

	out.Media = append(out.Media, upload("media"))

	out.Data = e.SyncPendingChanges(ctx)
	p.Completed = min(p.Completed+out.Data.Confirmed.Total(), p.Total)
	emit("data")

	if out.Data.Remapped > 0 {
		out.Media = append(out.Media, upload("media"))
	}

	p.Completed = p.Total
	emit("done")

	out.Success = out.Data.Success
	failures := 0
	for _, r := range out.Media {
		failures += len(r.Errors)
	}
	if failures > 0 {
		out.Success = false
	}

	switch {
	case out.Data.Offline:
		out.Message = msgOffline
	case failures > 0 && out.Data.Success:
		out.Message = fmt.Sprintf("%s; %d photos failed to upload", out.Data.Message, failures)
	default:
		out.Message = out.Data.Message
	}
	return out
}
