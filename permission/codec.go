package permission

// Names renders s as wire names in enumeration order. Token claims embed
// this form.
func (s Set) Names() []string {
	perms := s.Permissions()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// ParseNames decodes wire names into a set. Any unknown name fails the whole
// decode.
func ParseNames(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		p, err := Parse(name)
		if err != nil {
			return 0, err
		}
		s = s.With(p)
	}
	return s, nil
}
