package service

import (
	"context"
	"strconv"
	"strings"

	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "grade:idempotency:"
	processingMarker     = "processing"
)

func idempotencyCacheKey(userID int64, key string) string {
	return idempotencyKeyPrefix + strconv.FormatInt(userID, 10) + ":" + key
}

// acquireIdempotency reserves key for this attempt. It returns the id of an
// earlier finished attempt when the key was already used. A cache failure
// skips deduplication and the attempt is graded normally.
func (s *GradeService) acquireIdempotency(ctx context.Context, userID int64, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return true, "", nil
	}
	cacheKey := idempotencyCacheKey(userID, key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		logger.Warn(ctx, "read idempotency key failed, grading without deduplication", zap.Error(err))
		return false, "", nil
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		logger.Warn(ctx, "reserve idempotency key failed, grading without deduplication", zap.Error(err))
		return false, "", nil
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		logger.Warn(ctx, "read idempotency key failed, grading without deduplication", zap.Error(err))
		return false, "", nil
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.SubmissionInProgress).WithMessage("submission is still being graded")
}

func (s *GradeService) finalizeIdempotency(ctx context.Context, userID int64, key, submissionID string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, idempotencyCacheKey(userID, key), submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *GradeService) releaseIdempotency(ctx context.Context, userID int64, key string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, idempotencyCacheKey(userID, key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}
