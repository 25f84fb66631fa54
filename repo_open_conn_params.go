package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const redactedValue = "xxxxx"

type (
	// OpenConnectionParams describe where and how to dial.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// OpenConnectionParamsGetter resolves the dial parameters for a caller identity. An empty
	// identity means an anonymous connection.
	OpenConnectionParamsGetter func(ctx context.Context, identity string) (OpenConnectionParams, error)

	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
	identity string,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx, identity)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// NewQueryTokenParamsGetter appends the identity to baseURL as the tokenParam query parameter.
// http(s) schemes are rewritten to ws(s).
func NewQueryTokenParamsGetter(baseURL, tokenParam string, header http.Header) OpenConnectionParamsGetter {
	return func(_ context.Context, identity string) (OpenConnectionParams, error) {
		u, err := parseEndpoint(baseURL)
		if err != nil {
			return OpenConnectionParams{}, err
		}
		if identity != "" {
			q := u.Query()
			q.Set(tokenParam, identity)
			u.RawQuery = q.Encode()
		}
		return OpenConnectionParams{URL: *u, Header: header.Clone()}, nil
	}
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidEndpoint, err.Error())
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, errors.Wrapf(ErrInvalidEndpoint, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Wrap(ErrInvalidEndpoint, "missing host")
	}
	return u, nil
}

// redactURL renders u with every query value masked, so identities never reach logs.
func redactURL(u url.URL) string {
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, redactedValue)
		}
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
