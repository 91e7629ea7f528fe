package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/shortlink/internal/bloom"
	"github.com/user/shortlink/internal/database"
	"github.com/user/shortlink/internal/generator"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/repository"
)

const (
	maxURLLength     = 2048
	maxAliasLength   = 64
	maxInsertRetries = 8
)

// reservedAliases are identifiers the router or future admin surface
// needs for itself. Matched case-insensitively.
var reservedAliases = map[string]bool{
	"admin": true, "api": true, "static": true, "health": true,
	"health_check": true, "login": true, "register": true,
	"dashboard": true, "profile": true, "logout": true,
	"shorten": true, "redirect": true, "users": true, "tags": true,
	"public": true, "help": true, "about": true, "contact": true,
	"terms": true, "privacy": true, "favicon.ico": true,
	"robots.txt": true, "sitemap.xml": true,
}

// ShortenerService owns the shorten and redirect paths.
type ShortenerService struct {
	repo     repository.URLStore
	filter   *bloom.Filter
	gen      generator.Generator
	cache    *database.RedisDB // nil disables caching
	baseURL  string
	length   int
	alphabet map[rune]bool
	log      zerolog.Logger
}

// NewShortenerService wires the shorten/redirect dependencies. cache
// may be nil; every cache interaction degrades to the repository.
func NewShortenerService(
	repo repository.URLStore,
	filter *bloom.Filter,
	gen generator.Generator,
	cache *database.RedisDB,
	baseURL string,
	length int,
	alphabet string,
	log zerolog.Logger,
) *ShortenerService {
	set := make(map[rune]bool, len(alphabet))
	for _, r := range alphabet {
		set[r] = true
	}
	return &ShortenerService{
		repo:     repo,
		filter:   filter,
		gen:      gen,
		cache:    cache,
		baseURL:  strings.TrimRight(baseURL, "/"),
		length:   length,
		alphabet: set,
		log:      log,
	}
}

// Shorten validates, canonicalizes, and stores a URL, returning its
// short form. Shortening the same URL twice returns the same code.
func (s *ShortenerService) Shorten(ctx context.Context, req *models.ShortenRequest) (*models.ShortenResponse, *Error) {
	if len(req.URL) > maxURLLength {
		return nil, Unprocessable("URL exceeds maximum allowed length of 2048 characters")
	}

	canonical, cerr := CanonicalizeURL(req.URL)
	if cerr != nil {
		return nil, cerr
	}

	var alias string
	if req.Alias != nil {
		alias = strings.TrimSpace(*req.Alias)
		if alias == "" {
			return nil, Unprocessable("Alias must not be empty")
		}
		if verr := s.validateAlias(alias); verr != nil {
			return nil, verr
		}
	}

	urlHash := hashURL(canonical)

	// Dedup probe: the filter also carries canonical URLs, so most
	// repeat shortens skip straight to the existing row. A false
	// positive just costs one indexed lookup; a miss falls through to
	// the insert, whose hash conflict handling is the source of truth.
	if s.filter.MayContain(canonical) {
		if existing, err := s.repo.GetByURLHash(ctx, urlHash); err == nil {
			return s.respond(existing.ID, existing.Code, canonical), nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("Failed to query URL by hash")
			return nil, Internal("Failed to shorten URL")
		}
	}

	if alias != "" {
		return s.insertWithAlias(ctx, alias, canonical, urlHash)
	}
	return s.insertGenerated(ctx, canonical, urlHash)
}

func (s *ShortenerService) insertWithAlias(ctx context.Context, alias, canonical, urlHash string) (*models.ShortenResponse, *Error) {
	res, err := s.repo.InsertURL(ctx, alias, canonical, urlHash)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, Conflict("Alias is already taken")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to insert URL")
		return nil, Internal("Failed to shorten URL")
	}

	s.finishInsert(res, canonical)
	return s.respond(res.ID, res.Code, canonical), nil
}

func (s *ShortenerService) insertGenerated(ctx context.Context, canonical, urlHash string) (*models.ShortenResponse, *Error) {
	for attempt := 1; attempt <= maxInsertRetries; attempt++ {
		code, err := s.gen.Generate()
		if err != nil {
			var perr *generator.PersistError
			if !errors.As(err, &perr) {
				s.log.Error().Err(err).Str("engine", s.gen.Name()).Msg("Failed to generate short code")
				return nil, Internal("Failed to shorten URL")
			}
			// The code is valid; only the durability write failed.
			s.log.Error().Err(perr).Msg("Sequence state persistence failed")
		}

		res, err := s.repo.InsertURL(ctx, code, canonical, urlHash)
		if errors.Is(err, repository.ErrDuplicate) {
			s.log.Warn().Int("attempt", attempt).Msg("Short code collision, retrying")
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to insert URL")
			return nil, Internal("Failed to shorten URL")
		}

		s.finishInsert(res, canonical)
		return s.respond(res.ID, res.Code, canonical), nil
	}

	return nil, Internal("ID collision occurred")
}

// finishInsert updates the filter exactly once per created row and
// emits the success log line.
func (s *ShortenerService) finishInsert(res *models.UpsertResult, canonical string) {
	if !res.Created {
		return
	}
	s.filter.InsertAll([]string{res.Code, canonical})
	s.log.Info().
		Str("code", res.Code).
		Str("engine", s.gen.Name()).
		Msg("Shortened URL")
}

func (s *ShortenerService) respond(id uuid.UUID, code, canonical string) *models.ShortenResponse {
	return &models.ShortenResponse{
		ShortenedURL: fmt.Sprintf("%s/%s", s.baseURL, code),
		OriginalURL:  canonical,
		ID:           id.String(),
	}
}

// validateAlias enforces the alias rules: ≤64 code points, every
// character in the configured alphabet (plus '_' and '-' when the
// alphabet carries them), sane underscore/hyphen placement, and not a
// reserved word.
func (s *ShortenerService) validateAlias(alias string) *Error {
	if utf8.RuneCountInString(alias) > maxAliasLength {
		return Unprocessable("Alias exceeds maximum allowed length of 64 characters")
	}
	if reservedAliases[strings.ToLower(alias)] {
		return Unprocessable("Alias is reserved")
	}

	prev := rune(0)
	for i, r := range alias {
		if !s.alphabet[r] && r != '_' && r != '-' {
			return Unprocessable("Alias contains characters outside the allowed alphabet")
		}
		if r == '_' || r == '-' {
			if i == 0 || prev == '_' || prev == '-' {
				return Unprocessable("Alias has misplaced underscore or hyphen")
			}
		}
		prev = r
	}
	if prev == '_' || prev == '-' {
		return Unprocessable("Alias has misplaced underscore or hyphen")
	}
	return nil
}

// Resolve maps an identifier to its stored URL for the redirect path.
// Cheap rejections run before any I/O: length, alphabet membership,
// then the filter. Only identifiers that pass all three touch the
// cache or the store. The bounds are the alias bounds (64 code points,
// '_' and '-' admitted), not the generated-code length: aliases
// resolve through this path too.
func (s *ShortenerService) Resolve(ctx context.Context, code string) (string, *Error) {
	if code == "" || utf8.RuneCountInString(code) > maxAliasLength {
		return "", NotFound("Short URL not found")
	}
	for _, r := range code {
		if !s.alphabet[r] && r != '_' && r != '-' {
			return "", NotFound("Short URL not found")
		}
	}
	if !s.filter.MayContain(code) {
		return "", NotFound("Short URL not found")
	}

	if target, ok := s.cacheGet(ctx, code); ok {
		return target, nil
	}

	u, err := s.repo.GetURL(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return "", NotFound("Short URL not found")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to resolve short URL")
		return "", Internal("Failed to resolve short URL")
	}

	s.cacheSet(ctx, code, u.OriginalURL)
	return u.OriginalURL, nil
}

// AttachAlias adds an extra identifier to an existing short URL.
func (s *ShortenerService) AttachAlias(ctx context.Context, alias string, target string) *Error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return Unprocessable("Alias must not be empty")
	}
	if verr := s.validateAlias(alias); verr != nil {
		return verr
	}

	u, err := s.repo.GetURL(ctx, target)
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound("Short URL not found")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to resolve alias target")
		return Internal("Failed to attach alias")
	}

	err = s.repo.InsertAlias(ctx, alias, u.ID)
	if errors.Is(err, repository.ErrDuplicate) {
		return Conflict("Alias is already taken")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound("Short URL not found")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to insert alias")
		return Internal("Failed to attach alias")
	}

	s.filter.Insert(alias)
	s.log.Info().Str("alias", alias).Str("code", u.Code).Msg("Attached alias")
	return nil
}

// cacheGet consults the hot-URL cache. Any cache failure is logged
// and treated as a miss; the cache must never fail a request.
func (s *ShortenerService) cacheGet(ctx context.Context, code string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	var target string
	found, err := s.cache.GetJSON(ctx, database.CacheKey(code), &target)
	if err != nil {
		s.log.Warn().Err(err).Msg("Cache read failed")
		return "", false
	}
	return target, found
}

func (s *ShortenerService) cacheSet(ctx context.Context, code, target string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, database.CacheKey(code), target); err != nil {
		s.log.Warn().Err(err).Msg("Cache write failed")
	}
}

// hashURL is the content hash that deduplicates URLs: hex SHA-256 of
// the canonical form.
func hashURL(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
