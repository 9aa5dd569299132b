package sqlinline

const QWorkerClaimJob = `--sql 2c7de1a4-9b0e-4c3a-8f19-6d2a1c5b7e90
with next_job as (
    select id
    from generation_jobs
    where status = 'pending'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update generation_jobs
    set status = 'processing', updated_at = now()
    where id in (select id from next_job)
    returning id, brand, model, generation_id, content_type, language, requested_count, stage
)
select * from updated;
`

const QWorkerReleaseJob = `--sql 7b3f9c21-5d48-4a06-9e72-0c8b4f1a6d35
update generation_jobs
set status = 'pending', updated_at = now()
where id = $1::uuid and status = 'processing';
`

const QWorkerListPollableJobs = `--sql e91a6f02-3c57-4b88-a1d4-9f0e2b7c5a16
select id, brand, model, generation_id, content_type, language, requested_count, status, stage, batch_id, input_file_id, output_file_id, progress_total, error_message, created_at, updated_at
from generation_jobs
where status = 'processing' and batch_id <> ''
order by updated_at asc
limit $1::int;
`
