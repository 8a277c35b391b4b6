package linker

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
)

const (
	// MarkerIDPrefix prefixes every generated marker id.
	MarkerIDPrefix = "gc-number-"

	// MarkerClass is the CSS class carried by every marker span.
	MarkerClass = "gc-cs-link"

	// MarkerTitle is the title attribute on generated markers.
	MarkerTitle = "Call with Google Voice"

	// OptOutAttr opts a subtree out of link conversion when set to
	// OptOutValue on any ancestor element.
	OptOutAttr  = "googlevoice"
	OptOutValue = "nolinks"
)

// tagsToIgnore are parent elements whose text is never rewritten: scripts,
// styles, form controls, and existing links.
var tagsToIgnore = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"object":   true,
	"textarea": true,
	"input":    true,
	"select":   true,
	"a":        true,
}

const (
	textNodesQuery = `.//text()[normalize-space(.) != '']`
	optOutQuery    = `ancestor-or-self::*[@` + OptOutAttr + `='` + OptOutValue + `']`
)

// Linker scans HTML trees for phone-number-shaped text and rewrites
// matching text nodes into uniquely-identified marker spans. Marker ids
// increase monotonically for the lifetime of the Linker and are never
// reused.
type Linker struct {
	log     *logging.Logger
	metrics *monitoring.Metrics
	onCall  func(number string)

	// scanning guards against mutation feedback: rescans triggered by the
	// Linker's own edits are dropped.
	scanning atomic.Bool

	mu      sync.RWMutex
	counter int
	markers map[string]string // marker id -> matched number text
}

// New creates a Linker. onCall receives the original matched number string
// whenever a marker is triggered.
func New(log *logging.Logger, onCall func(number string)) *Linker {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Linker{
		log:     log,
		onCall:  onCall,
		markers: make(map[string]string),
	}
}

// WithMetrics attaches a metrics collector.
func (l *Linker) WithMetrics(m *monitoring.Metrics) *Linker {
	l.metrics = m
	return l
}

// Scan visits every non-empty text node reachable from root in document
// order and rewrites the first phone-number match per node into a marker
// span. It returns the number of markers created. Failures on individual
// nodes are swallowed and scanning continues.
func (l *Linker) Scan(root *html.Node) int {
	if root == nil {
		return 0
	}
	if l.metrics != nil {
		l.metrics.ScansTotal.Inc()
	}

	// Snapshot first: rewriting mutates the tree under us.
	nodes, err := htmlquery.QueryAll(root, textNodesQuery)
	if err != nil {
		l.log.Warn("text node query failed", zap.Error(err))
		return 0
	}

	created := 0
	for _, node := range nodes {
		if l.linkNode(node) {
			created++
		}
	}
	return created
}

// OnMutation incrementally rescans an inserted subtree. The re-entrancy
// guard drops mutation notifications produced by the Linker's own writes.
func (l *Linker) OnMutation(subtree *html.Node) int {
	if !l.scanning.CompareAndSwap(false, true) {
		return 0
	}
	defer l.scanning.Store(false)
	return l.Scan(subtree)
}

// Number returns the matched number registered for a marker id.
func (l *Linker) Number(markerID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	number, ok := l.markers[markerID]
	return number, ok
}

// Trigger dispatches the call action for a marker, as a click on the
// rendered span would.
func (l *Linker) Trigger(markerID string) bool {
	number, ok := l.Number(markerID)
	if !ok {
		return false
	}
	if l.onCall != nil {
		l.onCall(number)
	}
	return true
}

// MarkerCount returns the number of registered markers.
func (l *Linker) MarkerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.markers)
}

// linkNode attempts to rewrite a single text node. Any error or panic
// leaves the node unmodified.
func (l *Linker) linkNode(node *html.Node) (created bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Debug("node rewrite panicked", zap.Any("cause", r))
			created = false
		}
	}()

	if node.Type != html.TextNode || node.Parent == nil {
		return false
	}

	parent := node.Parent
	if parent.Type != html.ElementNode {
		return false
	}
	if tagsToIgnore[strings.ToLower(parent.Data)] {
		l.skip("ignored_tag")
		return false
	}
	if hasClass(parent, MarkerClass) {
		l.skip("already_linked")
		return false
	}

	m, ok := FindNumber(node.Data)
	if !ok {
		return false
	}

	optedOut, err := htmlquery.Query(node, optOutQuery)
	if err != nil || optedOut != nil {
		l.skip("opt_out")
		return false
	}

	// Reserve the id up front so concurrent scans never mint the same
	// one. A failed rewrite burns its number; ids stay unique.
	l.mu.Lock()
	markerID := fmt.Sprintf("%s%d", MarkerIDPrefix, l.counter)
	l.counter++
	l.mu.Unlock()

	var scope *html.Node
	if childElementCount(parent) == 0 {
		// The parent's only content is text, so a whole-content replace
		// is safe: no sibling elements carry handlers that a rewrite
		// could destroy.
		scope = parent
		if err := l.replaceParentContent(parent, m, markerID); err != nil {
			l.log.Debug("content replace failed", zap.Error(err))
			return false
		}
	} else {
		// Sibling elements exist. Substitute inside a fresh span inserted
		// after the text node so sibling handlers survive.
		span, err := l.wrapInSpan(node, m, markerID)
		if err != nil {
			l.log.Debug("span insert failed", zap.Error(err))
			return false
		}
		scope = span
	}

	marker := findByID(scope, markerID)
	if marker == nil {
		return false
	}

	l.mu.Lock()
	l.markers[markerID] = m.Text
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.MarkersCreated.Inc()
	}
	return true
}

// replaceParentContent serializes the parent's (element-free) content,
// substitutes the first occurrence of the match with marker markup, and
// reparses the result as the parent's new children.
func (l *Linker) replaceParentContent(parent *html.Node, m PhoneMatch, markerID string) error {
	var sb strings.Builder
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(html.EscapeString(c.Data))
		}
	}

	replaced := strings.Replace(sb.String(), html.EscapeString(m.Text), markerMarkup(markerID, m.Text), 1)
	children, err := html.ParseFragment(strings.NewReader(replaced), parent)
	if err != nil {
		return err
	}

	for parent.FirstChild != nil {
		parent.RemoveChild(parent.FirstChild)
	}
	for _, c := range children {
		parent.AppendChild(c)
	}
	return nil
}

// wrapInSpan builds a new span holding the text node's content with the
// substitution applied, inserts it immediately after the node, and removes
// the node.
func (l *Linker) wrapInSpan(node *html.Node, m PhoneMatch, markerID string) (*html.Node, error) {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
	}

	replaced := strings.Replace(html.EscapeString(node.Data), html.EscapeString(m.Text), markerMarkup(markerID, m.Text), 1)
	children, err := html.ParseFragment(strings.NewReader(replaced), span)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		span.AppendChild(c)
	}

	parent := node.Parent
	parent.InsertBefore(span, node.NextSibling)
	parent.RemoveChild(node)
	return span, nil
}

func (l *Linker) skip(reason string) {
	if l.metrics != nil {
		l.metrics.NodesSkipped.WithLabelValues(reason).Inc()
	}
}

func markerMarkup(markerID, text string) string {
	return fmt.Sprintf(`<span id=%q class=%q title=%q>%s</span>`,
		markerID, MarkerClass, MarkerTitle, html.EscapeString(text))
}

func childElementCount(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, token := range strings.Fields(attr.Val) {
			if token == class {
				return true
			}
		}
	}
	return false
}

func findByID(scope *html.Node, id string) *html.Node {
	if scope.Type == html.ElementNode {
		for _, attr := range scope.Attr {
			if attr.Key == "id" && attr.Val == id {
				return scope
			}
		}
	}
	for c := scope.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
