package linker

// OnSelection applies the permissive selection pattern to released
// selection text and, on a match, dispatches the call action with the
// detected number. Empty or unreadable selections are treated as "no
// match" and never produce an error.
func (l *Linker) OnSelection(selected string) (string, bool) {
	if selected == "" {
		return "", false
	}

	m, ok := FindSelectionNumber(selected)
	if !ok {
		return "", false
	}

	if l.onCall != nil {
		l.onCall(m.Text)
	}
	return m.Text, true
}
