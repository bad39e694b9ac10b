// Package capability implements the host side of every catalog entry.
//
// Each capability is an api.GoModuleFunc working on wazero's raw stack.
// Values cross the boundary as handles into the instance's handle.Table;
// numbers travel as f64 and booleans as i32. A capability that receives a
// value of the wrong kind traps the guest call with a typed error.
package capability
