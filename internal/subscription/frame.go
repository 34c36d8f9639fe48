package subscription

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	// ExecutionStateResource is the resource string for RAPID execution state
	// events, whose items carry no usable link.
	ExecutionStateResource = "/rw/rapid/execution;ctrlexecstate"

	execStateEventClass = "rap-ctrlexecstate-ev"

	rapidSymbolPrefix = "/rw/rapid/symbol/"
	bareSymbolPrefix  = "/RAPID/"
	elogPrefix        = "/rw/elog/"
)

// item is one decoded list entry of a notification frame.
type item struct {
	resource string
	event    Event
}

// decodeFrame parses an XHTML notification frame into its list items.
//
// Each <li> yields a resource string from its first anchor href (or the
// execution state constant) and an Event built from every <span class="X">
// descendant as X -> innerHTML. Items without a resource are dropped.
func decodeFrame(data []byte) ([]item, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	var items []item
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			if it, ok := decodeItem(n); ok {
				items = append(items, it)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return items, nil
}

func decodeItem(li *html.Node) (item, bool) {
	it := item{event: Event{}}

	if hasClass(li, execStateEventClass) {
		it.resource = ExecutionStateResource
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if it.resource == "" {
					if href := attr(n, "href"); href != "" {
						it.resource = resourceFromHref(href)
					}
				}
			case "span":
				if class := attr(n, "class"); class != "" {
					it.event[class] = innerHTML(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(li)

	if it.resource == "" {
		return item{}, false
	}
	return it, true
}

// resourceFromHref turns an anchor href into a resource string: scheme and
// host stripped, query dropped, percent-encoding decoded.
func resourceFromHref(href string) string {
	if strings.Contains(href, "://") {
		if u, err := url.Parse(href); err == nil {
			href = u.EscapedPath()
		}
	}
	href, _, _ = strings.Cut(href, "?")
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	return href
}

// normalizeResource applies the rewrites shared by registration and dispatch.
//
// RAPID symbol paths without a ";" suffix are subscribed as ";value"; a bare
// "RAPID/<task>/<module>/<symbol>" is taken as a symbol path. Elog events are
// delivered per sequence number under a domain subscription.
func normalizeResource(res string) string {
	res = strings.TrimSpace(res)
	if res == "" {
		return ""
	}
	if !strings.HasPrefix(res, "/") {
		res = "/" + res
	}

	if strings.HasPrefix(res, bareSymbolPrefix) {
		res = rapidSymbolPrefix + strings.TrimPrefix(res, "/")
	}
	if strings.HasPrefix(res, rapidSymbolPrefix) && !strings.Contains(res, ";") {
		return res + ";value"
	}

	if rest, ok := strings.CutPrefix(res, elogPrefix); ok {
		if domain, _, found := strings.Cut(rest, "/"); found {
			return elogPrefix + domain
		}
	}

	return res
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}
