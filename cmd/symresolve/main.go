/* Copyright 2013 Google Inc. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
symresolve resolves a single instruction address against a Breakpad
symbol file, printing the function, source file and line it maps to.
It exercises Resolver, DiskModuleCache and MemoryModuleCache end to end.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"

	"github.com/couchbaselabs/breakpad/breakpad"
)

var (
	symFile      = flag.String("sym", "", "path to the .sym file to load")
	address      = flag.String("addr", "0x0", "instruction address to resolve, hex")
	base         = flag.String("base", "0x0", "module base/load address, hex")
	cacheDir     = flag.String("cache", "", "directory for the on-disk module cache; disabled if empty")
	memCacheSize = flag.Int("mem_cache_size", 30, "number of encoded module cache entries to keep in the memory cache tier")
)

func main() {
	flag.Parse()
	defer log.Flush()

	if *symFile == "" {
		fatal("must specify -sym")
	}

	instruction, err := parseHexAddress(*address)
	if err != nil {
		fatal(fmt.Sprintf("invalid -addr: %v", err))
	}
	baseAddress, err := parseHexAddress(*base)
	if err != nil {
		fatal(fmt.Sprintf("invalid -base: %v", err))
	}

	resolver := breakpad.NewResolver(buildCache())

	const moduleName = "main"
	if err := resolver.LoadModule(moduleName, *symFile); err != nil {
		fatal(fmt.Sprintf("loading %s: %v", *symFile, err))
	}

	frame := &breakpad.StackFrame{
		Instruction: instruction,
		Module: &breakpad.ModuleInfo{
			CodeFile:    moduleName,
			BaseAddress: baseAddress,
		},
	}
	info := resolver.FillSourceLineInfo(frame)

	if frame.FunctionName == "" {
		fmt.Printf("0x%x: <unknown>\n", instruction)
		return
	}

	fmt.Printf("0x%x: %s + 0x%x", instruction, frame.FunctionName, instruction-frame.FunctionBase)
	if frame.SourceFileName != "" {
		fmt.Printf(" (%s:%d)", frame.SourceFileName, frame.SourceLine)
	}
	fmt.Println()

	if info != nil && info.Valid&breakpad.ValidProgramString != 0 {
		fmt.Printf("unwind: %s\n", info.ProgramString)
	}
}

func buildCache() breakpad.ModuleCache {
	if *cacheDir == "" {
		return nil
	}
	disk := breakpad.NewDiskModuleCache(*cacheDir)
	mem, err := breakpad.NewMemoryModuleCache(disk, *memCacheSize)
	if err != nil {
		log.Warningf("symresolve: disabling memory cache tier: %v", err)
		return disk
	}
	return mem
}

func parseHexAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
