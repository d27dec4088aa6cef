// Package testutil provides testing helpers shared by the kamui-auth packages:
// a controllable clock and fake OAuth token endpoints.
package testutil
