/*
Package deploy stages hotfix rollouts across the fleet.

Three strategies share one stage lifecycle: deploy (backup, deploy
command, optional restart), health gate (probe with retries, all targets
must pass), metric monitor (periodic samples averaged over the window and
validated against stage thresholds), optional approval, then a settle
wait. Canary walks its stages in declared order; blue-green gates the
green environment and shifts traffic in ascending steps, reverting fully
to blue on any breach; direct deploys once.

Stage failure terminates the deployment as failed, or rolled_back when
auto-rollback is requested and the injected Rollbacker succeeds.
*/
package deploy
