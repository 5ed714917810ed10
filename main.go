package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"

	"lanshare/catalog"
	"lanshare/config"
	"lanshare/crypto"
	"lanshare/discovery"
	"lanshare/logger"
	"lanshare/models"
	"lanshare/network"
	"lanshare/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "lanshare: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		return runServe(args)
	case "discover":
		return runDiscover(args)
	case "ls":
		return runList(args)
	case "send":
		return runSend(args)
	case "fetch":
		return runFetch(args)
	case "info":
		return runInfo(args)
	case "peers":
		return runPeers(args)
	case "history":
		return runHistory(args)
	case "help":
		showHelp()
		return nil
	default:
		showHelp()
		return fmt.Errorf("unknown command %q", command)
	}
}

func showHelp() {
	fmt.Fprint(os.Stderr, `Usage: lanshare [command] [flags]

Commands:
  serve                   share files on this host (default)
  discover                list hosts announcing on the LAN
  ls <host>               list files offered by a host
  send <host> <file>      upload a file to a host
  fetch [-o dir] <host> <name>
                          download a file from a host
  info <host>             show a host's identity
  peers <host>            ask a host which peers it can see
  history [flags] <host> [id]
                          show a host's transfer history

Hosts may be given as ip, ip:port or http://ip:port.
`)
}

func loadConfig() (*config.DeviceConfig, string, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, cfgPath, nil
}

func discoveryConfig(cfg *config.DeviceConfig) discovery.Config {
	return discovery.Config{
		Name:             cfg.DeviceName,
		IP:               cfg.AdvertiseIP,
		HTTPPort:         cfg.HTTPPort,
		BroadcastAddress: cfg.BroadcastAddress,
		BroadcastPort:    cfg.BroadcastPort,
		Interval:         cfg.BroadcastInterval,
		Attempts:         cfg.DiscoveryAttempts,
		AttemptTimeout:   cfg.DiscoveryTimeout,
		AttemptDelay:     cfg.DiscoveryDelay,
		MDNS:             cfg.MDNS(),
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", 0, "HTTP port to listen on (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.HTTPPort = *port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	dataDir := filepath.Dir(cfgPath)

	files, err := catalog.New(catalog.Options{
		FilesDir:   cfg.FilesDir,
		StagingDir: cfg.StagingDir,
		MaxSize:    cfg.MaxFileSize,
		ChunkSize:  cfg.ChunkSize,
	})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	if removed, err := files.CleanupStaging(catalog.DefaultStaleStagingAge); err != nil {
		logger.Warnf("startup: %v", err)
	} else if removed > 0 {
		logger.Infof("startup: removed %d stale staging files", removed)
	}

	history, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Errorf("history close error: %v", err)
		}
	}()
	history.SetHistoryRetention(cfg.HistoryRetention)

	svc, err := discovery.Start(discoveryConfig(cfg))
	if err != nil {
		return fmt.Errorf("start presence broadcaster: %w", err)
	}
	defer svc.Stop()

	server, err := network.Listen(fmt.Sprintf(":%d", cfg.HTTPPort), network.Options{
		Catalog:    files,
		Identity:   svc.Identity(),
		Discoverer: svc.Client,
		History:    history,
	})
	if err != nil {
		return err
	}

	identity := svc.Identity()
	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:     %s\n", identity.Name)
	fmt.Printf("Server URL:      http://%s:%d\n", identity.IP, identity.Port)
	fmt.Printf("Broadcast Port:  %d\n", cfg.BroadcastPort)
	fmt.Printf("Files Directory: %s\n", files.FilesDir())
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Database File:   %s\n", dbPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-server.Errors():
		if ok {
			serveErr = err
		}
	}
	fmt.Println("Status:          shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return serveErr
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	attempts := fs.Int("attempts", 0, "receive attempts (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg := discoveryConfig(cfg)
	if *attempts > 0 {
		dcfg.Attempts = *attempts
	}

	client, err := discovery.NewClient(dcfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peers, err := client.Discover(ctx)
	if err != nil && len(peers) == 0 {
		return fmt.Errorf("discover: %w", err)
	}
	if len(peers) == 0 {
		fmt.Println("no hosts found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tSOURCE")
	for _, peer := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", peer.Name, peer.URL(), peer.Source)
	}
	return tw.Flush()
}

func runList(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lanshare ls <host>")
	}
	client, err := network.NewClient(args[0], nil)
	if err != nil {
		return err
	}

	files, err := client.Files(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	for _, f := range files {
		modified := time.Unix(0, int64(f.Modified*float64(time.Second))).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, modified)
	}
	return tw.Flush()
}

func runSend(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: lanshare send <host> <file>")
	}
	client, err := network.NewClient(args[0], nil)
	if err != nil {
		return err
	}

	path := args[1]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	bar := progressbar.DefaultBytes(info.Size(), "sending "+name)
	hasher := crypto.NewChecksum()
	started := time.Now()

	result, err := client.Upload(context.Background(), name, io.TeeReader(f, io.MultiWriter(bar, hasher)))
	_ = bar.Finish()
	if err != nil {
		return err
	}

	local := crypto.SumHex(hasher)
	if result.Checksum != local {
		return fmt.Errorf("checksum mismatch for %s: sent %s, peer stored %s",
			name, crypto.FormatChecksum(local), crypto.FormatChecksum(result.Checksum))
	}

	fmt.Printf("sent %s (%d bytes) in %s, checksum %s\n",
		result.Filename, result.Size, time.Since(started).Round(time.Millisecond), crypto.FormatChecksum(local))
	fmt.Printf("download: %s%s\n", client.BaseURL(), result.DownloadURL)
	return nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	outDir := fs.String("o", ".", "directory to save into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: lanshare fetch [-o dir] <host> <name>")
	}
	host, name := fs.Arg(0), fs.Arg(1)
	clean, err := catalog.CleanName(name)
	if err != nil {
		return err
	}

	client, err := network.NewClient(host, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	size, err := client.Size(ctx, clean)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(*outDir, ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	bar := progressbar.DefaultBytes(size, "fetching "+clean)
	hasher := crypto.NewChecksum()
	n, err := client.Download(ctx, clean, io.MultiWriter(tmp, bar, hasher))
	_ = bar.Finish()
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}

	dest := filepath.Join(*outDir, clean)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("save %s: %w", dest, err)
	}

	fmt.Printf("saved %s (%d bytes), checksum %s\n", dest, n, crypto.FormatChecksum(crypto.SumHex(hasher)))
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lanshare info <host>")
	}
	client, err := network.NewClient(args[0], nil)
	if err != nil {
		return err
	}

	info, err := client.ServerInfo(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Name: %s\n", info.Name)
	fmt.Printf("URL:  %s\n", info.URL)
	return nil
}

func runPeers(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lanshare peers <host>")
	}
	client, err := network.NewClient(args[0], nil)
	if err != nil {
		return err
	}

	peers, err := client.Peers(context.Background())
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("no hosts found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tSOURCE")
	for _, peer := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", peer.Name, peer.URL, peer.Source)
	}
	return tw.Flush()
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	direction := fs.String("direction", "", "only receive or send")
	status := fs.String("status", "", "only complete, rejected or failed")
	file := fs.String("file", "", "only this filename")
	limit := fs.Int("limit", 0, "maximum entries")
	offset := fs.Int("offset", 0, "entries to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: lanshare history [flags] <host> [id]")
	}

	client, err := network.NewClient(fs.Arg(0), nil)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var transfers []models.Transfer
	if fs.NArg() == 2 {
		transfer, err := client.Transfer(ctx, fs.Arg(1))
		if err != nil {
			return err
		}
		transfers = append(transfers, transfer)
	} else {
		transfers, err = client.Transfers(ctx, network.TransferQuery{
			Direction: *direction,
			Status:    *status,
			Filename:  *file,
			Limit:     *limit,
			Offset:    *offset,
		})
		if err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFINISHED\tDIRECTION\tSTATUS\tSIZE\tNAME\tREMOTE")
	for _, tr := range transfers {
		finished := time.UnixMilli(tr.FinishedAt).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			tr.ID, finished, tr.Direction, tr.Status, tr.Size, tr.Filename, tr.RemoteAddr)
	}
	return tw.Flush()
}
