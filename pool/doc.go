// Copyright (c) 2026
// Author: momentics <momentics@gmail.com>

// Package pool provides recycled fixed-size byte slices for the hot I/O
// paths.
package pool
