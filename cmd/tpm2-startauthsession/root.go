// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session"
	"github.com/canonical/go-tpm2session/linux"
	"github.com/canonical/go-tpm2session/mssim"
	"github.com/canonical/go-tpm2session/tpm2"
)

const envPrefix = "TPM2SESSION"

// openTransport opens the TPM selected by the configuration, returning the transport and a
// description of it for logging.
var openTransport = func(v *viper.Viper) (tpm2.Transport, string, error) {
	if addr := v.GetString("mssim"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, "", xerrors.Errorf("invalid simulator address: %w", err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, "", xerrors.Errorf("invalid simulator port: %w", err)
		}
		dev := mssim.NewDevice(host, uint(port))
		transport, err := dev.Open()
		if err != nil {
			return nil, "", err
		}
		return transport, dev.String(), nil
	}

	var transport *linux.Transport
	var err error
	if path := v.GetString("device"); path != "" {
		transport, err = linux.OpenDevice(path)
	} else {
		transport, err = linux.OpenDefaultDevice()
	}
	if err != nil {
		return nil, "", err
	}
	return transport, transport.Path(), nil
}

func addFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Read configuration from the specified file")
	flags.String("log-level", "info", "Logging level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("device", "", "Path of the TPM character device (default /dev/tpmrm0, then /dev/tpm0)")
	flags.String("mssim", "", "Address of a TPM simulator command channel (host:port), used instead of a device")
	flags.String("type", "hmac", "Session type (hmac, policy, trial)")
	flags.String("hash", "sha256", "Session digest algorithm")
	flags.String("symmetric", "null", "Parameter encryption algorithm (eg, aes128cfb, xor-sha256, null)")
	flags.String("bind", "null", "Handle of the entity to bind the session to")
	flags.String("key", "null", "Handle of the key that the salt is encrypted to")
	flags.String("salt", "", "Encrypted salt, in hex")
	flags.String("nonce", "", "Initial caller nonce, in hex (default random)")
	flags.Bool("keep", false, "Do not flush the session before exiting. The kernel resource manager (/dev/tpmrm0) still flushes it when the device is closed, so use /dev/tpm0 or --mssim to keep it loaded")
	flags.Uint("max-submissions", 5, "Maximum number of times a command is submitted when the TPM asks for a retry")
}

func newConfig(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Errorf("cannot read config file: %w", err)
		}
	}
	return v, nil
}

func newLogger(cmd *cobra.Command, v *viper.Viper) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	return logger, nil
}

func newParameters(v *viper.Viper) (*tpm2session.Parameters, error) {
	sessionType, err := parseSessionType(v.GetString("type"))
	if err != nil {
		return nil, err
	}
	params := tpm2session.NewParameters(sessionType)

	hashAlg, err := parseHashAlg(v.GetString("hash"))
	if err != nil {
		return nil, err
	}
	params.SetAuthHash(hashAlg)

	symmetric, err := parseSymDef(v.GetString("symmetric"))
	if err != nil {
		return nil, err
	}
	params.SetSymmetric(symmetric)

	bind, err := parseHandle(v.GetString("bind"))
	if err != nil {
		return nil, xerrors.Errorf("cannot parse bind: %w", err)
	}
	params.SetBind(bind)

	key, err := parseHandle(v.GetString("key"))
	if err != nil {
		return nil, xerrors.Errorf("cannot parse key: %w", err)
	}
	params.SetKey(key)

	if s := v.GetString("salt"); s != "" {
		salt, err := parseHex(s)
		if err != nil {
			return nil, xerrors.Errorf("cannot decode salt: %w", err)
		}
		if err := params.SetEncryptedSalt(salt); err != nil {
			return nil, err
		}
	}

	if s := v.GetString("nonce"); s != "" {
		nonce, err := parseHex(s)
		if err != nil {
			return nil, xerrors.Errorf("cannot decode nonce: %w", err)
		}
		if err := params.SetNonceCaller(nonce); err != nil {
			return nil, err
		}
	} else if err := params.RandomizeNonceCaller(nil); err != nil {
		return nil, err
	}

	return params, nil
}

func run(cmd *cobra.Command, v *viper.Viper, logger *logrus.Logger) error {
	params, err := newParameters(v)
	if err != nil {
		return err
	}

	transport, desc, err := openTransport(v)
	if err != nil {
		return xerrors.Errorf("cannot open TPM: %w", err)
	}
	log := logger.WithField("device", desc)
	log.Debug("opened TPM")

	tpm := tpm2.NewTPMContext(transport)
	tpm.SetMaxSubmissions(v.GetUint("max-submissions"))
	defer func() {
		if err := tpm.Close(); err != nil {
			log.WithError(err).Warn("cannot close TPM")
		}
	}()

	session, err := tpm2session.Start(tpm, params)
	if err != nil {
		return err
	}

	log = log.WithFields(logrus.Fields{
		"handle": session.Handle(),
		"hash":   session.AuthHash(),
		"type":   session.Type()})
	log.Info("started session")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "handle: %v\n", session.Handle())
	fmt.Fprintf(out, "type: %v\n", session.Type())
	fmt.Fprintf(out, "hash: %v\n", session.AuthHash())
	fmt.Fprintf(out, "bound: %t\n", session.IsBound())
	fmt.Fprintf(out, "salted: %t\n", session.IsSalted())
	fmt.Fprintf(out, "nonce-caller: %x\n", session.NonceCaller())
	fmt.Fprintf(out, "nonce-tpm: %x\n", session.NonceTPM())

	if v.GetBool("keep") {
		log.Info("leaving session loaded")
		return nil
	}

	if err := session.Close(); err != nil {
		log.WithError(err).Warn("cannot flush session")
		return err
	}
	log.Debug("flushed session")
	return nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tpm2-startauthsession",
		Short: "Start an authorization session on a TPM",
		Long: `Start an authorization session on a TPM and print its handle, digest algorithm
and nonces. The session is flushed before exiting unless --keep is specified.

Every flag can also be set with an environment variable prefixed with ` + envPrefix + `_,
eg ` + envPrefix + `_MSSIM=localhost:2321, or in a configuration file passed with --config.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, v)
			if err != nil {
				return err
			}
			return run(cmd, v, logger)
		},
	}
	addFlags(cmd.Flags())
	return cmd
}
