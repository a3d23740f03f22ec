//go:build linux

package main

import _ "github.com/tp2/canbridge/pkg/can/socketcanraw"
