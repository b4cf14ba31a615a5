package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/suncumby/drms/pkg/jsd"
	"github.com/suncumby/drms/pkg/types"
)

var (
	keymapOnly = flag.Bool("keymap", false, "print only the prime-key/DB-index column list")
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jsdtool [-keymap] FILE.jsd")
		os.Exit(2)
	}

	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	tmpl, err := jsd.Parse(string(data))
	if err != nil {
		log.Fatalf("parse error: %v", err)
	}

	if *keymapOnly {
		for _, name := range jsd.KeyMapExport(tmpl) {
			fmt.Println(name)
		}
		return
	}

	printTemplate(tmpl)
}

func printTemplate(tmpl *types.Template) {
	info := tmpl.Info
	fmt.Printf("Series:      %s\n", info.Name)
	fmt.Printf("Description: %s\n", info.Description)
	fmt.Printf("Author:      %s\n", info.Author)
	fmt.Printf("Owner:       %s\n", info.Owner)
	fmt.Printf("UnitSize:    %d\n", info.UnitSize)
	fmt.Printf("Archive:     %d\n", info.Archive)
	fmt.Printf("TapeGroup:   %d\n", info.TapeGroup)
	fmt.Printf("Retention:   %d\n", info.Retention)
	fmt.Printf("PrimeKeys:   %v\n", info.PrimeKeys)
	fmt.Printf("DBIndex:     %v\n", info.DBIndex)

	fmt.Println("\nKeywords:")
	for _, name := range tmpl.KeywordOrder {
		kw := tmpl.Keywords[name]
		if kw == nil {
			continue
		}
		fmt.Printf("  %-30s type=%-10s scope=%-10s", kw.Name, kw.Type, kw.Scope)
		if kw.LinkName != "" {
			fmt.Printf(" link=%s->%s", kw.LinkName, kw.TargetKey)
		}
		fmt.Println()
	}

	fmt.Println("\nLinks:")
	linkNames := make([]string, 0, len(tmpl.Links))
	for name := range tmpl.Links {
		linkNames = append(linkNames, name)
	}
	sort.Strings(linkNames)
	for _, name := range linkNames {
		l := tmpl.Links[name]
		fmt.Printf("  %-20s -> %s (%v)\n", l.Name, l.TargetSeries, l.Type)
	}

	fmt.Println("\nSegments:")
	for _, name := range tmpl.SegmentOrder {
		seg := tmpl.Segments[name]
		if seg == nil {
			continue
		}
		fmt.Printf("  %-20s type=%-8s rank=%d protocol=%v axis=%v\n", seg.Name, seg.Type, seg.Rank, seg.Protocol, seg.Axis)
	}
}
