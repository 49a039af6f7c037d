package profile

// Patch is a partial update of a stored profile.
type Patch struct {
	Set   SparseFields
	Clear []Field
	Step  *Step
}

// IsEmpty reports whether applying the patch would change nothing.
func (pt Patch) IsEmpty() bool {
	return pt.Set.IsEmpty() && len(pt.Clear) == 0 && pt.Step == nil
}

// Fields lists every field the patch touches, set or cleared.
func (pt Patch) Fields() []Field {
	out := pt.Set.Present()
	return append(out, pt.Clear...)
}

// Apply returns a copy of p with the patch applied.
func (pt Patch) Apply(p Profile) Profile {
	out := p.Merge(pt.Set)
	for _, f := range pt.Clear {
		out.Clear(f)
	}
	if pt.Step != nil {
		out.RegistrationStep = *pt.Step
	}
	return out
}

// Diff returns the patch that turns before into after.
func Diff(before, after Profile) Patch {
	var pt Patch
	for _, f := range AllFields {
		bv, bok := before.Value(f)
		av, aok := after.Value(f)
		switch {
		case aok && (!bok || bv != av):
			pt.Set.set(f, av)
		case !aok && bok:
			pt.Clear = append(pt.Clear, f)
		}
	}
	if before.RegistrationStep != after.RegistrationStep {
		s := after.RegistrationStep
		pt.Step = &s
	}
	return pt
}
