package cli

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/querysched/common/endpoints"
	"github.com/twitter/querysched/scheduler/config"
)

const defaultHttpTries = 3

type statusCmd struct {
	addr    string
	metrics bool
	tries   int
}

func (s *statusCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running scheduler",
	}
	cmd.Flags().StringVar(&s.addr, "addr", config.DefaultAdminAddr, "Admin address of the scheduler")
	cmd.Flags().BoolVar(&s.metrics, "metrics", false, "Print metrics instead of the scheduler snapshot")
	cmd.Flags().IntVar(&s.tries, "tries", defaultHttpTries, "HTTP attempts before giving up")
	return cmd
}

func makePesterClient(tries int) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = tries
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("Retrying after failed attempt: %+v", e)
	}
	return client
}

func (s *statusCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	path := endpoints.SchedulerPath
	if s.metrics {
		path = endpoints.MetricsPath
	}
	url := fmt.Sprintf("http://%s%s?pretty=true", s.addr, path)
	resp, err := makePesterClient(s.tries).Get(url)
	if err != nil {
		return errors.Wrapf(err, "querying %s", url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s returned %s: %s", url, resp.Status, body)
	}
	fmt.Fprintf(c.out, "%s", body)
	return nil
}
