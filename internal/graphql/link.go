package graphql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Operation kinds as they appear in a GraphQL document.
const (
	KindQuery        = "query"
	KindMutation     = "mutation"
	KindSubscription = "subscription"
)

// OperationKind returns the kind of the first operation in query:
// "query", "mutation" or "subscription". Fragment definitions are skipped
// and an anonymous "{ ... }" selection is a query.
func OperationKind(query string) string {
	depth := 0
	word := strings.Builder{}
	inFragment := false

	flush := func() string {
		w := word.String()
		word.Reset()
		return w
	}

	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '#':
			for i < len(query) && query[i] != '\n' {
				i++
			}
		case ch == '"':
			i++
			for i < len(query) && query[i] != '"' {
				if query[i] == '\\' {
					i++
				}
				i++
			}
		case ch == '{':
			w := flush()
			if depth == 0 && !inFragment {
				switch w {
				case "":
					return KindQuery
				case KindQuery, KindMutation, KindSubscription:
					return w
				}
			}
			depth++
		case ch == '}':
			flush()
			depth--
			if depth == 0 {
				inFragment = false
			}
		case depth == 0 && (ch == '_' || unicode.IsLetter(rune(ch)) || (word.Len() > 0 && unicode.IsDigit(rune(ch)))):
			word.WriteByte(ch)
		default:
			if depth != 0 {
				continue
			}
			switch w := flush(); w {
			case KindQuery, KindMutation, KindSubscription:
				if !inFragment {
					return w
				}
			case "fragment":
				inFragment = true
			}
		}
	}

	switch w := word.String(); w {
	case KindQuery, KindMutation, KindSubscription:
		return w
	}
	return KindQuery
}

// Executor runs GraphQL operations whatever their kind.
type Executor interface {
	Do(ctx context.Context, req Request, out any) error
	Subscribe(ctx context.Context, req Request) (*Subscription, error)
}

// Link routes operations by kind: subscriptions go to the WebSocket client,
// everything else to the HTTP client.
type Link struct {
	HTTP *Client
	WS   *WSClient
}

// NewLink creates a split link
func NewLink(httpClient *Client, ws *WSClient) *Link {
	return &Link{HTTP: httpClient, WS: ws}
}

// Do runs req and decodes its data into out. A subscription document is
// sent over the WebSocket and its first result is returned.
func (l *Link) Do(ctx context.Context, req Request, out any) error {
	if OperationKind(req.Query) != KindSubscription {
		return l.HTTP.Do(ctx, req, out)
	}

	sub, err := l.Subscribe(ctx, req)
	if err != nil {
		return err
	}
	defer sub.Close()

	select {
	case res, ok := <-sub.Results():
		if !ok {
			return &Error{Kind: KindNetwork, Op: req.name(), Err: errors.New("subscription ended without result")}
		}
		if res.Err != nil {
			return res.Err
		}
		return decodeData(req.name(), res.Data, out)
	case <-ctx.Done():
		return &Error{Kind: KindNetwork, Op: req.name(), Err: ctx.Err()}
	}
}

// Subscribe starts a subscription. A query or mutation document is run over
// HTTP and delivered as a single result.
func (l *Link) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	if OperationKind(req.Query) == KindSubscription {
		if l.WS == nil {
			return nil, &Error{Kind: KindInternal, Op: req.name(), Err: fmt.Errorf("no websocket transport configured")}
		}
		return l.WS.Subscribe(ctx, req)
	}

	sub := NewSubscription("http")
	go func() {
		var res Response
		err := l.HTTP.Do(ctx, req, &res.Data)
		if err == nil {
			sub.Deliver(Result{Data: res.Data})
		}
		sub.Finish(err)
	}()
	return sub, nil
}
