package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/windmill-trade/windmill/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "windmilld"
	app.Usage = "sealed-bid uniform-clearing-price share auction server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr",
			Usage: "listen address, overrides WINDMILL_ADDR",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	logrus.Infof("starting windmilld")
	return srv.ListenAndServe()
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[windmilld] %v\n", err)
	os.Exit(1)
}
