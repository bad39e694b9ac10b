// Package handle maps the i32 handles a guest holds to host values.
//
// Handle 0 is the undefined value and is never allocated. Pointer values are
// deduplicated: inserting the same object twice yields the same handle and
// bumps a reference count, so handle equality implies identity. Each Release
// drops one reference; the slot is reused once the count reaches zero.
//
//	t := handle.NewTable()
//	h := t.Insert(obj)
//	v, ok := t.Get(h)
//	t.Release(h)
//
// Observers receive lifecycle events; LogObserver writes them to a zap logger.
package handle
