package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thobiasn/statpipe/internal/statview"
	"github.com/thobiasn/statpipe/internal/wire"
)

func main() {
	fs := flag.NewFlagSet("statview", flag.ExitOnError)
	address := fs.String("address", "127.0.0.1:7980", "statstore RPC address")
	poll := fs.Duration("poll", 2*time.Second, "query poll interval")
	dialTimeout := fs.Duration("dial-timeout", 5*time.Second, "connect/request timeout")
	contextFlag := fs.String("context", "resource", "id namespace: business or resource")
	totalView := fs.Bool("total", false, "aggregate across hosts instead of per-host")
	pid := fs.Uint("pid", 0, "business process id filter")
	mid := fs.Uint("mid", 0, "business module id filter")
	iids := fs.String("iids", "", "comma-separated resource/item id filter")
	fs.Parse(os.Args[1:])

	qctx := wire.ContextResource
	if strings.EqualFold(*contextFlag, "business") {
		qctx = wire.ContextBusiness
	}

	var iidList []uint16
	if *iids != "" {
		for _, tok := range strings.Split(*iids, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 16)
			if err != nil {
				fmt.Fprintf(os.Stderr, "statview: invalid -iids entry %q: %v\n", tok, err)
				os.Exit(1)
			}
			iidList = append(iidList, uint16(v))
		}
	}

	m := statview.New(statview.Config{
		Address:      *address,
		DialTimeout:  *dialTimeout,
		PollInterval: *poll,
		Filter: statview.Filter{
			Context:   qctx,
			TotalView: *totalView,
			Pid:       uint16(*pid),
			Mid:       uint16(*mid),
			Iids:      iidList,
		},
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "statview: %v\n", err)
		os.Exit(1)
	}
}
