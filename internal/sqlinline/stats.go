package sqlinline

const QStatsSummary = `--sql a4c82e19-7f63-4d0b-b5a8-1e9d6c3f2b70
select
  (select count(*) from generation_jobs)                                        as total_jobs,
  (select count(*) from generation_jobs where status = 'pending')               as jobs_pending,
  (select count(*) from generation_jobs where status = 'processing')            as jobs_processing,
  (select count(*) from generation_jobs where status = 'completed')             as jobs_completed,
  (select count(*) from generation_jobs where status = 'failed')                as jobs_failed,
  (select count(*) from faults)                                                 as total_faults,
  (select count(*) from faults where created_at >= now() - interval '24 hours') as faults_last24,
  (select count(*) from fault_embeddings)                                       as total_embeddings;
`
