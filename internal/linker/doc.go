// Package linker detects phone-number-shaped text in HTML documents and
// rewrites matching text nodes into clickable marker spans.
//
// The scan visits every non-empty text node in document order, applies a
// strict North-American phone pattern, and replaces the first match per
// node with a uniquely-identified span while preserving sibling elements
// and their handlers. A second, more permissive pattern serves
// user-selected text.
//
// Built on specialized libraries:
//   - goquery: document loading and serialization
//   - htmlquery: XPath text-node snapshots and ancestor opt-out queries
//   - chardet: character encoding detection
//   - mimetype: content-type gating (XML payloads are never scanned)
package linker
